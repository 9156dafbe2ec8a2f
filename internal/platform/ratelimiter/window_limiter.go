package ratelimiter

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"fok-catalog/go-backend/internal/platform/metrics"
)

// Counter is the shared-state backend of the limiter. Implementations must
// make Incr atomic across replicas and expire the key after ttl so dead
// windows clean themselves up.
type Counter interface {
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	MarkOnce(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// Decision is the outcome of admitting one inbound update.
type Decision struct {
	Allowed       bool
	Throttled     bool
	FirstThrottle bool
	RetryAfter    time.Duration
}

// WindowLimiter admits per-user traffic against a fixed counting window
// shared by all replicas. Windows are aligned to the wall clock, so every
// replica counts the same update into the same window without coordination.
// Backend failures admit the update; losing a few windows of limiting is
// better than dropping real traffic.
type WindowLimiter struct {
	counter Counter
	limit   int64
	window  time.Duration
	log     *slog.Logger

	now func() time.Time
}

// New creates a limiter; returns nil if args are invalid. A nil limiter
// admits everything, which keeps call sites branch-free.
func New(counter Counter, limit int, window time.Duration, log *slog.Logger) *WindowLimiter {
	if counter == nil || limit <= 0 || window <= 0 {
		return nil
	}
	if log == nil {
		log = slog.Default()
	}
	return &WindowLimiter{
		counter: counter,
		limit:   int64(limit),
		window:  window,
		log:     log,
		now:     time.Now,
	}
}

// Admit counts one update for the user and decides whether it may proceed.
// FirstThrottle is true for exactly one throttled update per window, so the
// caller can warn the user once instead of echoing every drop.
func (l *WindowLimiter) Admit(ctx context.Context, telegramID int64) Decision {
	if l == nil {
		return Decision{Allowed: true}
	}

	now := l.now()
	windowStart := now.Truncate(l.window)
	key := fmt.Sprintf("rate_limit:%d:%d", telegramID, windowStart.Unix())

	count, err := l.counter.Incr(ctx, key, l.window)
	if err != nil {
		metrics.RateLimiterErrorsTotal.Inc()
		l.log.Warn("rate limiter backend unavailable, admitting", "telegram_id", telegramID, "error", err.Error())
		return Decision{Allowed: true}
	}
	if count <= l.limit {
		return Decision{Allowed: true}
	}

	retryAfter := windowStart.Add(l.window).Sub(now)

	first := false
	if ok, err := l.counter.MarkOnce(ctx, key+":warned", retryAfter); err == nil {
		first = ok
	}

	metrics.ThrottledTotal.Inc()
	return Decision{Throttled: true, FirstThrottle: first, RetryAfter: retryAfter}
}
