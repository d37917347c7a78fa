// Package ratelimit decides whether a new send is admissible given the
// identity's recent history. Windows slide with the current instant rather
// than aligning to calendar buckets, which avoids boundary bursts.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"taskmail/internal/types"
)

// Counter is the slice of the audit store the limiter needs.
type Counter interface {
	CountSince(ctx context.Context, identityID string, since time.Time, outcome *types.Outcome) (int, error)
}

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed bool
	Window  types.RateWindow
	Reason  string
}

// Admitter is implemented by both the log-backed and the redis-backed
// limiter.
type Admitter interface {
	Check(ctx context.Context, identityID string, now time.Time) (Decision, error)
}

// Limiter computes admission from the audit log on every call. It holds no
// in-memory counters, so it is safe across restarts and replicas.
//
// Two concurrent checks for the same identity can both observe the same
// count before either appends its record, admitting one send over the
// limit. The redis strategy closes that gap where it matters.
type Limiter struct {
	counter     Counter
	limits      types.Limits
	countFailed bool
}

// NewLimiter creates a log-backed limiter. When countFailed is set, failed
// and rejected attempts consume quota too, so a fast-retrying client does
// not get free attempts.
func NewLimiter(counter Counter, limits types.Limits, countFailed bool) *Limiter {
	return &Limiter{
		counter:     counter,
		limits:      limits,
		countFailed: countFailed,
	}
}

// Limits returns the configured quota windows.
func (l *Limiter) Limits() types.Limits {
	return l.limits
}

// Check returns the admission decision for one prospective send. The
// hourly window is evaluated first; it is the tighter one, so most
// rejections exit early without the daily query.
func (l *Limiter) Check(ctx context.Context, identityID string, now time.Time) (Decision, error) {
	var outcome *types.Outcome
	if !l.countFailed {
		sent := types.OutcomeSent
		outcome = &sent
	}

	hourly, err := l.counter.CountSince(ctx, identityID, now.Add(-time.Hour), outcome)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to count hourly sends: %w", err)
	}
	if hourly >= l.limits.MaxPerHour {
		return Decision{
			Window: types.WindowHourly,
			Reason: fmt.Sprintf("hourly limit exceeded: %d of %d sends used in the last hour, try again in under an hour",
				hourly, l.limits.MaxPerHour),
		}, nil
	}

	daily, err := l.counter.CountSince(ctx, identityID, now.Add(-24*time.Hour), outcome)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to count daily sends: %w", err)
	}
	if daily >= l.limits.MaxPerDay {
		return Decision{
			Window: types.WindowDaily,
			Reason: fmt.Sprintf("daily limit exceeded: %d of %d sends used in the last 24 hours, try again tomorrow",
				daily, l.limits.MaxPerDay),
		}, nil
	}

	return Decision{Allowed: true}, nil
}

// Quota reports current usage for an identity. Informational: by the time
// the caller acts on it, the counts may have moved.
func (l *Limiter) Quota(ctx context.Context, identityID string, now time.Time) (*types.Quota, error) {
	var outcome *types.Outcome
	if !l.countFailed {
		sent := types.OutcomeSent
		outcome = &sent
	}

	hourly, err := l.counter.CountSince(ctx, identityID, now.Add(-time.Hour), outcome)
	if err != nil {
		return nil, fmt.Errorf("failed to count hourly sends: %w", err)
	}
	daily, err := l.counter.CountSince(ctx, identityID, now.Add(-24*time.Hour), outcome)
	if err != nil {
		return nil, fmt.Errorf("failed to count daily sends: %w", err)
	}

	return &types.Quota{
		Limits:          l.limits,
		UsedLastHour:    hourly,
		UsedLastDay:     daily,
		RemainingHourly: max(l.limits.MaxPerHour-hourly, 0),
		RemainingDaily:  max(l.limits.MaxPerDay-daily, 0),
	}, nil
}
