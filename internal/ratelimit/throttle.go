package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"github.com/ortaieb/image-checker/internal/metrics"
	"golang.org/x/sync/semaphore"
)

const throttleWindow = time.Minute

// Throttle caps how many calls may start per minute. Waiters queue on a
// FIFO semaphore, so the head of the line is the only caller polling the
// window and nobody is overtaken.
type Throttle struct {
	name     string
	limit    int
	window   time.Duration
	limiter  WindowLimiter
	fallback *MemoryWindowLimiter
	sem      *semaphore.Weighted
	logger   *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewThrottle builds a throttle admitting requestsPerMinute starts. When
// limiter is nil, or when it returns an error, the in-process window is used.
func NewThrottle(name string, requestsPerMinute int, limiter WindowLimiter, logger *slog.Logger) *Throttle {
	if logger == nil {
		logger = slog.Default()
	}
	fallback := NewMemoryWindowLimiter(time.Now)
	if limiter == nil {
		limiter = fallback
	}
	return &Throttle{
		name:     name,
		limit:    requestsPerMinute,
		window:   throttleWindow,
		limiter:  limiter,
		fallback: fallback,
		sem:      semaphore.NewWeighted(1),
		logger:   logger,
		sleep:    sleepOrDone,
	}
}

// Acquire blocks until a start is permitted. It only returns an error when
// ctx ends first.
func (t *Throttle) Acquire(ctx context.Context) error {
	if t == nil || t.limit <= 0 {
		return nil
	}
	if err := t.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer t.sem.Release(1)

	started := time.Now()
	waited := false
	for {
		dec, err := t.limiter.Reserve(ctx, t.name, t.limit, t.window)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			t.logger.Warn("throttle window check failed; using in-process window", "throttle", t.name, "err", err)
			dec, _ = t.fallback.Reserve(ctx, t.name, t.limit, t.window)
		case dec.Allowed && t.limiter != WindowLimiter(t.fallback):
			t.fallback.Record(t.name, t.window)
		}
		if dec.Allowed {
			if waited {
				metrics.ThrottleWaitSeconds.WithLabelValues(t.name).Observe(time.Since(started).Seconds())
			}
			return nil
		}
		if !waited {
			metrics.ThrottleWaitsTotal.WithLabelValues(t.name).Inc()
			waited = true
		}
		if err := t.sleep(ctx, dec.RetryAfter); err != nil {
			return err
		}
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
