package base

import (
	"testing"
	"time"

	"github.com/quotewire/quotewire/pkg/errors"
	"github.com/quotewire/quotewire/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBreaker(t *testing.T) *CircuitBreaker {
	t.Helper()
	return NewCircuitBreaker("test-plugin", testutil.Store(t), testutil.Logger(t))
}

func tripBreaker(t *testing.T, cb *CircuitBreaker) {
	t.Helper()
	for i := 0; i < 5; i++ {
		cb.RecordFailure()
	}
	require.Equal(t, CircuitOpen, cb.State())
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	cb := newTestBreaker(t)

	for i := 0; i < 4; i++ {
		cb.RecordFailure()
		assert.Equal(t, CircuitClosed, cb.State())
		assert.NoError(t, cb.CanExecute())
	}

	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())

	err := cb.CanExecute()
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeCircuitOpen))
}

func TestBreakerSuccessResetsCount(t *testing.T) {
	cb := newTestBreaker(t)

	for i := 0; i < 4; i++ {
		cb.RecordFailure()
	}
	cb.RecordSuccess()

	// the streak is broken; four more failures stay under threshold
	for i := 0; i < 4; i++ {
		cb.RecordFailure()
	}
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestBreakerHalfOpenSingleProbe(t *testing.T) {
	cb := newTestBreaker(t)
	tripBreaker(t, cb)

	// cooldown configured at 20ms in the test store
	time.Sleep(30 * time.Millisecond)

	require.NoError(t, cb.CanExecute())
	assert.Equal(t, CircuitHalfOpen, cb.State())
	assert.True(t, cb.ProbeInFlight())

	// second probe while one is outstanding is rejected
	err := cb.CanExecute()
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeCircuitOpen))
}

func TestBreakerProbeSuccessCloses(t *testing.T) {
	cb := newTestBreaker(t)
	tripBreaker(t, cb)
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, cb.CanExecute())

	cb.RecordSuccess()
	assert.Equal(t, CircuitClosed, cb.State())
	assert.NoError(t, cb.CanExecute())

	// cooldown reset: a fresh trip starts from the initial cooldown again
	tripBreaker(t, cb)
	assert.Equal(t, 20*time.Millisecond, cb.Snapshot().Cooldown)
}

func TestBreakerProbeFailureDoublesCooldown(t *testing.T) {
	cb := newTestBreaker(t)
	tripBreaker(t, cb)
	assert.Equal(t, 20*time.Millisecond, cb.Snapshot().Cooldown)

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, cb.CanExecute())

	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())
	assert.Equal(t, 40*time.Millisecond, cb.Snapshot().Cooldown)

	// still open inside the doubled cooldown
	time.Sleep(25 * time.Millisecond)
	assert.Error(t, cb.CanExecute())
}

func TestBreakerCooldownCap(t *testing.T) {
	store := testutil.Store(t)
	cb := NewCircuitBreaker("capped", store, testutil.Logger(t))
	maxCooldown := store.Snapshot().CircuitBreaker.MaxCooldown

	tripBreaker(t, cb)
	for i := 0; i < 10; i++ {
		time.Sleep(cb.Snapshot().Cooldown + 5*time.Millisecond)
		require.NoError(t, cb.CanExecute())
		cb.RecordFailure()
		if cb.Snapshot().Cooldown == maxCooldown {
			return
		}
	}
	assert.Equal(t, maxCooldown, cb.Snapshot().Cooldown)
}

func TestBreakerWouldAllowDoesNotClaimProbe(t *testing.T) {
	cb := newTestBreaker(t)
	tripBreaker(t, cb)

	assert.False(t, cb.WouldAllow())

	time.Sleep(30 * time.Millisecond)
	assert.True(t, cb.WouldAllow())
	assert.True(t, cb.WouldAllow(), "WouldAllow must not consume the probe slot")
	assert.Equal(t, CircuitOpen, cb.State(), "WouldAllow must not transition state")

	require.NoError(t, cb.CanExecute())
	assert.False(t, cb.WouldAllow(), "outstanding probe blocks further calls")
}

func TestBreakerFailureWindowExpires(t *testing.T) {
	store := testutil.Store(t)
	cfg := *store.Snapshot()
	cfg.CircuitBreaker.FailureWindow = 20 * time.Millisecond
	require.NoError(t, store.Update(&cfg))

	cb := NewCircuitBreaker("windowed", store, testutil.Logger(t))
	for i := 0; i < 4; i++ {
		cb.RecordFailure()
	}

	// stale failures fall outside the rolling window
	time.Sleep(30 * time.Millisecond)
	for i := 0; i < 4; i++ {
		cb.RecordFailure()
	}
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestBreakerSnapshotRestore(t *testing.T) {
	cb := newTestBreaker(t)
	tripBreaker(t, cb)
	snap := cb.Snapshot()
	assert.Equal(t, "open", snap.State)

	restored := newTestBreaker(t)
	restored.Restore(snap)
	assert.Equal(t, CircuitOpen, restored.State())
	assert.Equal(t, snap.Cooldown, restored.Snapshot().Cooldown)

	// HALF_OPEN collapses to OPEN so the single-probe invariant survives
	snap.State = "half_open"
	restored.Restore(snap)
	assert.Equal(t, CircuitOpen, restored.State())
	assert.False(t, restored.ProbeInFlight())
}

func TestBreakerSet(t *testing.T) {
	bs := NewBreakerSet(testutil.Store(t), testutil.Logger(t))

	a := bs.Get("a")
	assert.Same(t, a, bs.Get("a"))
	assert.NotSame(t, a, bs.Get("b"))

	tripBreaker(t, a)
	snaps := bs.Snapshots()
	assert.Len(t, snaps, 2)

	bs.Forget("a")
	assert.Equal(t, CircuitClosed, bs.Get("a").State(), "forget drops accumulated state")
}
