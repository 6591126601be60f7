package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// WindowLimiter admits at most limit events per rolling window for a key.
type WindowLimiter interface {
	Reserve(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)
}

// SlidingWindowLimiter keeps the event log in a Redis sorted set so every
// replica sharing the Redis instance draws from the same window.
type SlidingWindowLimiter struct {
	rdb *redis.Client
	now func() time.Time
}

func NewSlidingWindowLimiter(rdb *redis.Client) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{rdb: rdb, now: time.Now}
}

var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1]) -- ms
local window = tonumber(ARGV[2]) -- ms
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call("ZREMRANGEBYSCORE", key, "-inf", now - window)
local count = redis.call("ZCARD", key)
if count < limit then
  redis.call("ZADD", key, now, member)
  redis.call("PEXPIRE", key, window)
  return {1, 0}
end

local retry_ms = window
local oldest = redis.call("ZRANGE", key, 0, 0, "WITHSCORES")
if oldest[2] then
  retry_ms = tonumber(oldest[2]) + window - now
end
if retry_ms < 1 then retry_ms = 1 end
return {0, retry_ms}
`)

func (l *SlidingWindowLimiter) Reserve(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	if l == nil || l.rdb == nil || limit <= 0 || window <= 0 {
		return Decision{Allowed: true}, nil
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "default"
	}
	nowMS := l.now().UTC().UnixMilli()
	member := fmt.Sprintf("%d-%s", nowMS, uuid.NewString())

	res, err := slidingWindowScript.Run(ctx, l.rdb, []string{"imagechecker:sw:" + key}, nowMS, window.Milliseconds(), limit, member).Result()
	if err != nil {
		return Decision{}, err
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) < 2 {
		return Decision{}, fmt.Errorf("unexpected redis sliding window response: %T", res)
	}
	allowed, _ := vals[0].(int64)
	retryMS, _ := vals[1].(int64)
	if allowed == 1 {
		return Decision{Allowed: true}, nil
	}
	if retryMS <= 0 {
		retryMS = 1
	}
	return Decision{Allowed: false, RetryAfter: time.Duration(retryMS) * time.Millisecond}, nil
}

// MemoryWindowLimiter is the in-process equivalent of SlidingWindowLimiter.
type MemoryWindowLimiter struct {
	mu     sync.Mutex
	events map[string][]time.Time
	now    func() time.Time
}

func NewMemoryWindowLimiter(now func() time.Time) *MemoryWindowLimiter {
	if now == nil {
		now = time.Now
	}
	return &MemoryWindowLimiter{events: make(map[string][]time.Time), now: now}
}

func (l *MemoryWindowLimiter) Reserve(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	if limit <= 0 || window <= 0 {
		return Decision{Allowed: true}, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-window)
	evs := l.events[key]
	i := 0
	for i < len(evs) && !evs[i].After(cutoff) {
		i++
	}
	evs = evs[i:]

	if len(evs) < limit {
		l.events[key] = append(evs, now)
		return Decision{Allowed: true}, nil
	}
	l.events[key] = evs
	retry := evs[0].Add(window).Sub(now)
	if retry <= 0 {
		retry = time.Millisecond
	}
	return Decision{Allowed: false, RetryAfter: retry}, nil
}

// Record logs a start that was admitted elsewhere, so a later fallback to
// this limiter still counts it.
func (l *MemoryWindowLimiter) Record(key string, window time.Duration) {
	if window <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-window)
	evs := l.events[key]
	i := 0
	for i < len(evs) && !evs[i].After(cutoff) {
		i++
	}
	l.events[key] = append(evs[i:], now)
}
