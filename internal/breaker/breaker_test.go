package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBreaker() (*Breaker, *time.Time) {
	now := time.Unix(1_700_000_000, 0)
	b := New(Config{
		FailureThreshold: 5,
		Cooldown:         60 * time.Second,
		SuccessThreshold: 3,
	}, WithClock(func() time.Time { return now }))
	return b, &now
}

func TestBreakerOpensOnFifthConsecutiveFailure(t *testing.T) {
	b, _ := newTestBreaker()

	for i := 0; i < 4; i++ {
		b.RecordFailure()
		require.Equal(t, StateClosed, b.State())
		require.True(t, b.Allow())
	}
	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.Allow())
}

func TestSuccessResetsFailureStreak(t *testing.T) {
	b, _ := newTestBreaker()

	for i := 0; i < 4; i++ {
		b.RecordFailure()
	}
	b.RecordSuccess()
	b.RecordFailure()
	assert.Equal(t, StateClosed, b.State(), "non-consecutive failures must not trip")
}

func TestCooldownAllowsSingleTrialThenCloses(t *testing.T) {
	b, now := newTestBreaker()

	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	require.False(t, b.Allow())

	*now = now.Add(59 * time.Second)
	require.False(t, b.Allow(), "still cooling down")

	*now = now.Add(time.Second)
	require.True(t, b.Allow())
	require.Equal(t, StateHalfOpen, b.State())

	b.RecordSuccess()
	b.RecordSuccess()
	require.Equal(t, StateHalfOpen, b.State())
	b.RecordSuccess()
	assert.Equal(t, StateClosed, b.State())
}

func TestHalfOpenFailureReopensWithFreshCooldown(t *testing.T) {
	b, now := newTestBreaker()

	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	*now = now.Add(60 * time.Second)
	require.True(t, b.Allow())
	b.RecordSuccess()
	b.RecordSuccess()

	b.RecordFailure()
	require.Equal(t, StateOpen, b.State())

	*now = now.Add(30 * time.Second)
	assert.False(t, b.Allow(), "cooldown restarts on half-open failure")

	*now = now.Add(30 * time.Second)
	assert.True(t, b.Allow())
}

func TestHalfOpenAdmitsOneProbeAtATime(t *testing.T) {
	b, now := newTestBreaker()

	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	*now = now.Add(60 * time.Second)

	require.True(t, b.Allow())
	assert.False(t, b.Allow(), "second caller must wait for the probe outcome")

	b.RecordSuccess()
	require.True(t, b.Allow())
	assert.False(t, b.Allow())

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.Allow())
}

func TestSnapshotReportsPhase(t *testing.T) {
	b, _ := newTestBreaker()
	snap := b.Snapshot()
	assert.Equal(t, "CLOSED", snap["phase"])

	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	snap = b.Snapshot()
	assert.Equal(t, "OPEN", snap["phase"])
	assert.Equal(t, 5, snap["consecutive_failures"])
	assert.Contains(t, snap, "opened_at")
}
