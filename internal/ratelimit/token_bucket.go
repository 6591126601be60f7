package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

// Bucket is a refill rate plus burst capacity. A zero value disables limiting.
type Bucket struct {
	RequestsPerMinute int `yaml:"requestsPerMinute"`
	BurstSize         int `yaml:"burstSize"`
}

func (b Bucket) Enabled() bool {
	return b.RequestsPerMinute > 0 && b.BurstSize > 0
}

// refillTime is how long an empty bucket takes to fill up again.
func (b Bucket) refillTime() time.Duration {
	return time.Duration(float64(b.BurstSize) / float64(b.RequestsPerMinute) * float64(time.Minute))
}

type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

type Limiter interface {
	Allow(ctx context.Context, scope string, subject string, bucket Bucket) (Decision, error)
}

// TokenBucketLimiter throttles per-subject traffic (client addresses on
// ingress, callback URLs on egress) with a bucket stored in Redis.
type TokenBucketLimiter struct {
	rdb    *redis.Client
	prefix string
	now    func() time.Time
}

func NewTokenBucketLimiter(rdb *redis.Client) *TokenBucketLimiter {
	return &TokenBucketLimiter{rdb: rdb, prefix: "imagechecker:rl", now: time.Now}
}

// KEYS[1] bucket hash. ARGV: capacity, refill per ms, now ms, ttl ms.
// Returns {allowed, wait_ms}.
var takeTokenScript = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local per_ms = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(state[1]) or capacity
local last = tonumber(state[2]) or now
if last > now then last = now end

tokens = math.min(capacity, tokens + (now - last) * per_ms)

local allowed = 0
local wait = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
else
  wait = math.ceil((1 - tokens) / per_ms)
end

redis.call("HSET", KEYS[1], "tokens", tokens, "ts", now)
redis.call("PEXPIRE", KEYS[1], ttl)
return {allowed, wait}
`)

func (l *TokenBucketLimiter) Allow(ctx context.Context, scope string, subject string, bucket Bucket) (Decision, error) {
	if l == nil || l.rdb == nil || !bucket.Enabled() {
		return Decision{Allowed: true}, nil
	}
	perMS := float64(bucket.RequestsPerMinute) / float64(time.Minute.Milliseconds())
	res, err := takeTokenScript.Run(ctx, l.rdb, []string{l.key(scope, subject)},
		bucket.BurstSize, perMS, l.now().UnixMilli(), bucketTTL(bucket).Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Decision{}, err
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("unexpected token bucket reply: %v", res)
	}
	if res[0] == 1 {
		return Decision{Allowed: true}, nil
	}
	wait := time.Duration(res[1]) * time.Millisecond
	if wait < time.Second {
		wait = time.Second
	}
	return Decision{RetryAfter: wait.Round(time.Second)}, nil
}

func (l *TokenBucketLimiter) key(scope, subject string) string {
	scope = strings.TrimSpace(scope)
	if scope == "" {
		scope = "default"
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = "unknown"
	}
	return l.prefix + ":" + scope + ":" + sha256Hex(subject)
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// bucketTTL keeps idle state for two refill cycles, clamped to [30s, 1h].
func bucketTTL(b Bucket) time.Duration {
	ttl := 2*b.refillTime() + 5*time.Second
	switch {
	case ttl < 30*time.Second:
		return 30 * time.Second
	case ttl > time.Hour:
		return time.Hour
	}
	return ttl
}
