package ratelimit

import (
	"context"
	"testing"
	"time"

	"taskmail/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCounter counts in-memory records the way the SQL store does:
// strictly after since.
type fakeCounter struct {
	records []fakeRecord
}

type fakeRecord struct {
	at      time.Time
	outcome types.Outcome
}

func (f *fakeCounter) CountSince(_ context.Context, _ string, since time.Time, outcome *types.Outcome) (int, error) {
	count := 0
	for _, r := range f.records {
		if !r.at.After(since) {
			continue
		}
		if outcome != nil && r.outcome != *outcome {
			continue
		}
		count++
	}
	return count, nil
}

func (f *fakeCounter) add(at time.Time, outcome types.Outcome) {
	f.records = append(f.records, fakeRecord{at: at, outcome: outcome})
}

var testLimits = types.Limits{MaxPerHour: 10, MaxPerDay: 50}

func TestCheckAdmitsFreshIdentity(t *testing.T) {
	limiter := NewLimiter(&fakeCounter{}, testLimits, true)

	decision, err := limiter.Check(context.Background(), "user-1", time.Now())
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestCheckHourlyLimit(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	counter := &fakeCounter{}
	for i := 0; i < testLimits.MaxPerHour; i++ {
		counter.add(now.Add(-time.Duration(i+1)*time.Minute), types.OutcomeSent)
	}

	limiter := NewLimiter(counter, testLimits, true)
	decision, err := limiter.Check(context.Background(), "user-1", now)
	require.NoError(t, err)

	assert.False(t, decision.Allowed)
	assert.Equal(t, types.WindowHourly, decision.Window)
	assert.Contains(t, decision.Reason, "hourly limit exceeded")
}

func TestCheckHourlyBeforeDaily(t *testing.T) {
	// Both windows exhausted; the hourly reason wins.
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	counter := &fakeCounter{}
	for i := 0; i < testLimits.MaxPerDay; i++ {
		counter.add(now.Add(-time.Duration(i+1)*time.Minute), types.OutcomeSent)
	}

	limiter := NewLimiter(counter, testLimits, true)
	decision, err := limiter.Check(context.Background(), "user-1", now)
	require.NoError(t, err)

	assert.False(t, decision.Allowed)
	assert.Equal(t, types.WindowHourly, decision.Window)
}

func TestCheckDailyLimit(t *testing.T) {
	// Nothing in the last hour, but the 24h window is full.
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	counter := &fakeCounter{}
	for i := 0; i < testLimits.MaxPerDay; i++ {
		counter.add(now.Add(-2*time.Hour).Add(-time.Duration(i)*time.Minute), types.OutcomeSent)
	}

	limiter := NewLimiter(counter, testLimits, true)
	decision, err := limiter.Check(context.Background(), "user-1", now)
	require.NoError(t, err)

	assert.False(t, decision.Allowed)
	assert.Equal(t, types.WindowDaily, decision.Window)
	assert.Contains(t, decision.Reason, "daily limit exceeded")
}

func TestCheckHourlyWindowBoundary(t *testing.T) {
	// A record at exactly now-1h falls outside the half-open window
	// (now-1h, now], so the identity is admitted.
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	counter := &fakeCounter{}
	counter.add(now.Add(-time.Hour), types.OutcomeSent)
	for i := 0; i < testLimits.MaxPerHour-1; i++ {
		counter.add(now.Add(-time.Duration(i+1)*time.Minute), types.OutcomeSent)
	}

	limiter := NewLimiter(counter, testLimits, true)
	decision, err := limiter.Check(context.Background(), "user-1", now)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)

	// One nanosecond inside the window tips it over.
	counter.add(now.Add(-time.Hour).Add(time.Nanosecond), types.OutcomeSent)
	decision, err = limiter.Check(context.Background(), "user-1", now)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, types.WindowHourly, decision.Window)
}

func TestCheckFailedRecordsConsumeQuota(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	counter := &fakeCounter{}
	for i := 0; i < testLimits.MaxPerHour; i++ {
		counter.add(now.Add(-time.Duration(i+1)*time.Minute), types.OutcomeFailed)
	}

	limiter := NewLimiter(counter, testLimits, true)
	decision, err := limiter.Check(context.Background(), "user-1", now)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
}

func TestCheckFailedRecordsIgnoredWhenConfigured(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	counter := &fakeCounter{}
	for i := 0; i < testLimits.MaxPerHour; i++ {
		counter.add(now.Add(-time.Duration(i+1)*time.Minute), types.OutcomeFailed)
	}

	limiter := NewLimiter(counter, testLimits, false)
	decision, err := limiter.Check(context.Background(), "user-1", now)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestQuota(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	counter := &fakeCounter{}
	counter.add(now.Add(-30*time.Minute), types.OutcomeSent)
	counter.add(now.Add(-10*time.Minute), types.OutcomeFailed)
	counter.add(now.Add(-3*time.Hour), types.OutcomeSent)

	limiter := NewLimiter(counter, testLimits, true)
	quota, err := limiter.Quota(context.Background(), "user-1", now)
	require.NoError(t, err)

	assert.Equal(t, 2, quota.UsedLastHour)
	assert.Equal(t, 3, quota.UsedLastDay)
	assert.Equal(t, testLimits.MaxPerHour-2, quota.RemainingHourly)
	assert.Equal(t, testLimits.MaxPerDay-3, quota.RemainingDaily)
}
