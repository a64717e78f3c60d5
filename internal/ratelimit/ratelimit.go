// Package ratelimit provides sliding-window rate limiting keyed by principal.
//
// The default implementation counts in the embedded store so limits survive
// restarts and hold across every connection to the same database file. The
// Limiter interface is the contract; NoopLimiter disables limiting entirely.
package ratelimit

import (
	"context"
	"time"
)

// Window is a counting granularity. Windows are checked smallest first.
type Window string

const (
	WindowMinute Window = "minute"
	WindowHour   Window = "hour"
	WindowDay    Window = "day"
)

// bucket formats a timestamp into the bucket label for a window.
func (w Window) bucket(t time.Time) string {
	switch w {
	case WindowMinute:
		return t.UTC().Format("200601021504")
	case WindowHour:
		return t.UTC().Format("2006010215")
	default:
		return t.UTC().Format("20060102")
	}
}

// start truncates t to the beginning of the window bucket containing it.
func (w Window) start(t time.Time) time.Time {
	t = t.UTC()
	switch w {
	case WindowMinute:
		return t.Truncate(time.Minute)
	case WindowHour:
		return t.Truncate(time.Hour)
	default:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	}
}

// next returns the start of the bucket after the one containing t.
func (w Window) next(t time.Time) time.Time {
	switch w {
	case WindowMinute:
		return w.start(t).Add(time.Minute)
	case WindowHour:
		return w.start(t).Add(time.Hour)
	default:
		return w.start(t).AddDate(0, 0, 1)
	}
}

// Limits are the per-window request ceilings for one class of caller.
type Limits struct {
	Minute int64
	Hour   int64
	Day    int64
}

// Default ceilings. Anonymous callers get a tighter budget than
// authenticated principals.
var (
	AuthenticatedLimits = Limits{Minute: 60, Hour: 1000, Day: 10000}
	AnonymousLimits     = Limits{Minute: 10, Hour: 100, Day: 500}
)

func (l Limits) forWindow(w Window) int64 {
	switch w {
	case WindowMinute:
		return l.Minute
	case WindowHour:
		return l.Hour
	default:
		return l.Day
	}
}

// Result reports the outcome of a limit check.
type Result struct {
	Allowed bool
	// Window that tripped, set only when Allowed is false.
	Window Window
	Limit  int64
	// RetryAfter is the time until the tripped window's next bucket opens.
	RetryAfter time.Duration
}

// Limiter decides whether a request from a principal should proceed.
// Implementations must be safe for concurrent use.
type Limiter interface {
	// Allow checks the principal's counters against its limits without
	// incrementing them. Errors signal a limiter malfunction; callers should
	// fail open rather than blocking traffic.
	Allow(ctx context.Context, principal string, limits Limits) (Result, error)

	// Commit charges the request to the principal's counters. Called only
	// after the request has produced a non-rate-limited response, so 429s
	// never consume budget.
	Commit(ctx context.Context, principal string) error
}

// NoopLimiter permits every request and counts nothing.
type NoopLimiter struct{}

// Allow always permits.
func (NoopLimiter) Allow(context.Context, string, Limits) (Result, error) {
	return Result{Allowed: true}, nil
}

// Commit is a no-op.
func (NoopLimiter) Commit(context.Context, string) error { return nil }
