package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// CounterStore is the slice of the storage layer the limiter needs.
type CounterStore interface {
	IncrementCounter(ctx context.Context, key string, windowStart time.Time) (int64, error)
	GetCounter(ctx context.Context, key string, windowStart time.Time) (int64, error)
}

// StoreLimiter counts requests in the embedded store. Increments are atomic
// at the database level, so concurrent requests never lose updates.
type StoreLimiter struct {
	store CounterStore
	now   func() time.Time
	// Custom ceilings override the authenticated defaults when non-zero.
	overrides Limits
}

// NewStoreLimiter creates a limiter over the given counter store.
func NewStoreLimiter(store CounterStore) *StoreLimiter {
	return &StoreLimiter{store: store, now: time.Now}
}

// WithOverrides replaces the per-window ceilings for authenticated callers.
// Zero fields keep the defaults.
func (l *StoreLimiter) WithOverrides(limits Limits) *StoreLimiter {
	l.overrides = limits
	return l
}

// WithClock overrides the limiter clock. Test hook.
func (l *StoreLimiter) WithClock(now func() time.Time) *StoreLimiter {
	l.now = now
	return l
}

var checkOrder = []Window{WindowMinute, WindowHour, WindowDay}

func counterKey(principal string, w Window, t time.Time) string {
	return fmt.Sprintf("rate_limit:%s:%s:%s", principal, w, w.bucket(t))
}

// effective applies configured overrides on top of the caller-class limits.
func (l *StoreLimiter) effective(limits Limits) Limits {
	if l.overrides.Minute > 0 {
		limits.Minute = l.overrides.Minute
	}
	if l.overrides.Hour > 0 {
		limits.Hour = l.overrides.Hour
	}
	if l.overrides.Day > 0 {
		limits.Day = l.overrides.Day
	}
	return limits
}

// Allow checks the minute, hour, and day counters in order and reports the
// first window at or over its ceiling. Counters are read only; Commit does
// the charging.
func (l *StoreLimiter) Allow(ctx context.Context, principal string, limits Limits) (Result, error) {
	now := l.now()
	limits = l.effective(limits)
	for _, w := range checkOrder {
		limit := limits.forWindow(w)
		if limit <= 0 {
			continue
		}
		count, err := l.store.GetCounter(ctx, counterKey(principal, w, now), w.start(now))
		if err != nil {
			return Result{}, fmt.Errorf("ratelimit: read %s counter: %w", w, err)
		}
		if count >= limit {
			return Result{
				Allowed:    false,
				Window:     w,
				Limit:      limit,
				RetryAfter: w.next(now).Sub(now),
			}, nil
		}
	}
	return Result{Allowed: true}, nil
}

// Commit increments every window's counter for the principal.
func (l *StoreLimiter) Commit(ctx context.Context, principal string) error {
	now := l.now()
	for _, w := range checkOrder {
		if _, err := l.store.IncrementCounter(ctx, counterKey(principal, w, now), w.start(now)); err != nil {
			return fmt.Errorf("ratelimit: increment %s counter: %w", w, err)
		}
	}
	return nil
}
