package breaker

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GS-Bacon/KairosAgent-sub000/internal/models"
)

func newTestBreaker(t *testing.T) (*CircuitBreaker, *time.Time) {
	t.Helper()
	cb, err := New(Config{
		MaxAttemptsPerError:             3,
		MaxConsecutiveFailuresPerSource: 5,
		MaxConsecutiveFailuresGlobal:    10,
		Cooldown:                        5 * time.Minute,
		HalfOpenTestCount:               2,
	}, filepath.Join(t.TempDir(), "breaker.json"), nil)
	require.NoError(t, err)

	now := time.Now()
	cb.now = func() time.Time { return now }
	return cb, &now
}

func TestBreakerStartsClosed(t *testing.T) {
	cb, _ := newTestBreaker(t)
	assert.True(t, cb.Allow())
	assert.Equal(t, models.BreakerClosed, cb.State().State)
	assert.Zero(t, cb.GetRemainingCooldown())
}

func TestBreakerOpensOnPerErrorAttempts(t *testing.T) {
	cb, _ := newTestBreaker(t)

	cb.RecordFailure("verify", "err-1")
	cb.RecordFailure("verify", "err-1")
	assert.True(t, cb.Allow())

	cb.RecordFailure("verify", "err-1")
	assert.Equal(t, models.BreakerOpen, cb.State().State)
	assert.False(t, cb.Allow())
}

func TestBreakerOpensOnPerSourceFailures(t *testing.T) {
	cb, _ := newTestBreaker(t)

	// Five failures from one source across distinct errors.
	for i := 0; i < 5; i++ {
		cb.RecordFailure("repair", string(rune('a'+i)))
	}
	assert.Equal(t, models.BreakerOpen, cb.State().State)
}

func TestBreakerOpensOnGlobalFailures(t *testing.T) {
	cb, _ := newTestBreaker(t)

	// Spread across sources and errors so only the global counter trips.
	sources := []string{"s1", "s2", "s3", "s4"}
	for i := 0; i < 10; i++ {
		cb.RecordFailure(sources[i%len(sources)], string(rune('a'+i)))
	}
	assert.Equal(t, models.BreakerOpen, cb.State().State)
}

func TestBreakerSuccessResetsCounters(t *testing.T) {
	cb, _ := newTestBreaker(t)

	cb.RecordFailure("verify", "err-1")
	cb.RecordFailure("verify", "err-1")
	cb.RecordSuccess("verify", "err-1")

	state := cb.State()
	assert.Zero(t, state.ConsecutiveFailuresGlobal)
	assert.Zero(t, state.AttemptsPerError["err-1"])
	assert.Zero(t, state.ConsecutiveFailuresPerSource["verify"])

	// The per-error counter starts over after the reset.
	cb.RecordFailure("verify", "err-1")
	cb.RecordFailure("verify", "err-1")
	assert.Equal(t, models.BreakerClosed, cb.State().State)
}

func TestBreakerCooldownToHalfOpen(t *testing.T) {
	cb, now := newTestBreaker(t)

	for i := 0; i < 3; i++ {
		cb.RecordFailure("verify", "err-1")
	}
	require.Equal(t, models.BreakerOpen, cb.State().State)
	assert.Equal(t, 5*time.Minute, cb.GetRemainingCooldown())

	*now = now.Add(4 * time.Minute)
	assert.False(t, cb.Allow())
	assert.Equal(t, time.Minute, cb.GetRemainingCooldown())

	*now = now.Add(2 * time.Minute)
	assert.True(t, cb.Allow(), "cooldown elapsed")
	assert.Equal(t, models.BreakerHalfOpen, cb.State().State)
}

func TestBreakerHalfOpenClosesAfterTrials(t *testing.T) {
	cb, now := newTestBreaker(t)

	for i := 0; i < 3; i++ {
		cb.RecordFailure("verify", "err-1")
	}
	*now = now.Add(6 * time.Minute)
	require.True(t, cb.Allow())

	cb.RecordSuccess("verify", "err-2")
	assert.Equal(t, models.BreakerHalfOpen, cb.State().State, "one trial is not enough")
	cb.RecordSuccess("verify", "err-3")
	assert.Equal(t, models.BreakerClosed, cb.State().State)
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	cb, now := newTestBreaker(t)

	for i := 0; i < 3; i++ {
		cb.RecordFailure("verify", "err-1")
	}
	*now = now.Add(6 * time.Minute)
	require.True(t, cb.Allow())

	cb.RecordFailure("verify", "err-2")
	assert.Equal(t, models.BreakerOpen, cb.State().State)
	assert.False(t, cb.Allow())
}

func TestBreakerReset(t *testing.T) {
	cb, _ := newTestBreaker(t)

	for i := 0; i < 3; i++ {
		cb.RecordFailure("verify", "err-1")
	}
	require.Equal(t, models.BreakerOpen, cb.State().State)

	cb.Reset()
	state := cb.State()
	assert.Equal(t, models.BreakerClosed, state.State)
	assert.Nil(t, state.OpenedAt)
	assert.True(t, cb.Allow())
}

func TestBreakerStatePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "breaker.json")

	cb, err := New(DefaultConfig(), path, nil)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		cb.RecordFailure("verify", "err-1")
	}
	require.Equal(t, models.BreakerOpen, cb.State().State)

	reopened, err := New(DefaultConfig(), path, nil)
	require.NoError(t, err)
	assert.Equal(t, models.BreakerOpen, reopened.State().State)
	assert.False(t, reopened.Allow())
}
