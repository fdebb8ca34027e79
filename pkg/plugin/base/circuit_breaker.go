package base

import (
	"sync"
	"time"

	"github.com/quotewire/quotewire/pkg/config"
	"github.com/quotewire/quotewire/pkg/errors"
	"github.com/quotewire/quotewire/pkg/observability"
	"go.uber.org/zap"
)

// CircuitState is the state of one plugin's circuit.
type CircuitState int32

const (
	// CircuitClosed allows all calls
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects all calls until the cooldown elapses
	CircuitOpen
	// CircuitHalfOpen admits exactly one probe call
	CircuitHalfOpen
)

// String returns the state name.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerSnapshot is a persistable view of one breaker's state.
type BreakerSnapshot struct {
	PluginID     string        `json:"plugin_id"`
	State        string        `json:"state"`
	FailureCount int           `json:"failure_count"`
	Cooldown     time.Duration `json:"cooldown"`
	OpenedAt     time.Time     `json:"opened_at,omitempty"`
	LastChange   time.Time     `json:"last_change"`
}

// CircuitBreaker isolates one failing plugin. Each breaker owns a single
// mutex; there is no lock shared across plugins. The cycle is
// CLOSED → OPEN → HALF_OPEN → CLOSED (probe success) or back to OPEN (probe
// failure), never skipping HALF_OPEN. Cooldown is exponential: it starts at
// the configured initial value, doubles every time the circuit reopens, and
// resets only when a probe closes the circuit.
type CircuitBreaker struct {
	pluginID string
	store    *config.Store
	logger   *zap.Logger

	mu            sync.Mutex
	state         CircuitState
	failures      int
	windowStart   time.Time
	openedAt      time.Time
	cooldown      time.Duration
	probeInFlight bool
	lastChange    time.Time
}

// NewCircuitBreaker creates a closed breaker for one plugin. Thresholds are
// read from the config store on every decision, so config updates apply to
// the next transition without restart.
func NewCircuitBreaker(pluginID string, store *config.Store, logger *zap.Logger) *CircuitBreaker {
	return &CircuitBreaker{
		pluginID:   pluginID,
		store:      store,
		logger:     logger.With(zap.String("component", "circuit_breaker"), zap.String("plugin", pluginID)),
		state:      CircuitClosed,
		lastChange: time.Now(),
	}
}

// CanExecute decides whether a call may proceed. In OPEN it returns a
// circuit-open error until the cooldown elapses, then admits a single probe
// by moving to HALF_OPEN. A second probe attempt while one is outstanding is
// rejected with the same circuit-open error.
func (cb *CircuitBreaker) CanExecute() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return nil

	case CircuitOpen:
		if time.Since(cb.openedAt) < cb.cooldown {
			return errors.Newf(errors.ErrorTypeCircuitOpen,
				"circuit open for plugin %s, retry after %s",
				cb.pluginID, cb.openedAt.Add(cb.cooldown).Format(time.RFC3339))
		}
		cb.transitionLocked(CircuitHalfOpen)
		cb.probeInFlight = true
		return nil

	case CircuitHalfOpen:
		if cb.probeInFlight {
			return errors.Newf(errors.ErrorTypeCircuitOpen,
				"probe already in flight for plugin %s", cb.pluginID)
		}
		cb.probeInFlight = true
		return nil

	default:
		return errors.Newf(errors.ErrorTypeInternal,
			"circuit for plugin %s in unknown state", cb.pluginID)
	}
}

// WouldAllow reports whether CanExecute would currently admit a call,
// without claiming the HALF_OPEN probe slot or transitioning state. The
// router uses it to filter eligible plugins; only the chosen plugin's slot
// is actually claimed.
func (cb *CircuitBreaker) WouldAllow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		return time.Since(cb.openedAt) >= cb.cooldown
	case CircuitHalfOpen:
		return !cb.probeInFlight
	default:
		return false
	}
}

// RecordSuccess notes a successful call. A successful HALF_OPEN probe closes
// the circuit and clears counters and cooldown.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		cb.failures = 0
	case CircuitHalfOpen:
		cb.probeInFlight = false
		cb.failures = 0
		cb.cooldown = 0
		cb.transitionLocked(CircuitClosed)
	}
}

// RecordFailure notes a failed call. In CLOSED, consecutive failures within
// the rolling window open the circuit at the configured threshold. In
// HALF_OPEN the failed probe reopens the circuit with a doubled cooldown.
func (cb *CircuitBreaker) RecordFailure() {
	cfg := cb.store.Snapshot().CircuitBreaker

	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()

	switch cb.state {
	case CircuitClosed:
		if cb.failures == 0 || now.Sub(cb.windowStart) > cfg.FailureWindow {
			cb.failures = 0
			cb.windowStart = now
		}
		cb.failures++
		if cb.failures >= cfg.FailureThreshold {
			cb.openLocked(cfg, now)
		}

	case CircuitHalfOpen:
		cb.probeInFlight = false
		cb.openLocked(cfg, now)
	}
}

// openLocked moves to OPEN, doubling the cooldown on repeated opens.
func (cb *CircuitBreaker) openLocked(cfg config.CircuitBreakerConfig, now time.Time) {
	if cb.cooldown == 0 {
		cb.cooldown = cfg.InitialCooldown
	} else {
		cb.cooldown *= 2
	}
	if cb.cooldown > cfg.MaxCooldown {
		cb.cooldown = cfg.MaxCooldown
	}

	cb.openedAt = now
	cb.transitionLocked(CircuitOpen)
	cb.logger.Warn("circuit opened",
		zap.Int("failures", cb.failures),
		zap.Duration("cooldown", cb.cooldown))
}

func (cb *CircuitBreaker) transitionLocked(next CircuitState) {
	if cb.state == next {
		return
	}
	cb.logger.Debug("circuit transition",
		zap.String("from", cb.state.String()),
		zap.String("to", next.String()))
	cb.state = next
	cb.lastChange = time.Now()
	observability.RecordBreakerTransition(cb.pluginID, next.String())
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// ProbeInFlight reports whether a HALF_OPEN probe is outstanding.
func (cb *CircuitBreaker) ProbeInFlight() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state == CircuitHalfOpen && cb.probeInFlight
}

// Snapshot returns a persistable view of the breaker.
func (cb *CircuitBreaker) Snapshot() BreakerSnapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return BreakerSnapshot{
		PluginID:     cb.pluginID,
		State:        cb.state.String(),
		FailureCount: cb.failures,
		Cooldown:     cb.cooldown,
		OpenedAt:     cb.openedAt,
		LastChange:   cb.lastChange,
	}
}

// Restore seeds the breaker from a persisted snapshot for warm restarts.
// A restored HALF_OPEN collapses to OPEN so the single-probe invariant
// holds after restart.
func (cb *CircuitBreaker) Restore(snap BreakerSnapshot) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = snap.FailureCount
	cb.cooldown = snap.Cooldown
	cb.openedAt = snap.OpenedAt
	cb.probeInFlight = false

	switch snap.State {
	case CircuitOpen.String(), CircuitHalfOpen.String():
		cb.state = CircuitOpen
	default:
		cb.state = CircuitClosed
	}
	cb.lastChange = time.Now()
}

// BreakerSet owns one breaker per plugin, created lazily.
type BreakerSet struct {
	store  *config.Store
	logger *zap.Logger

	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
}

// NewBreakerSet creates an empty breaker set.
func NewBreakerSet(store *config.Store, logger *zap.Logger) *BreakerSet {
	return &BreakerSet{
		store:    store,
		logger:   logger,
		breakers: make(map[string]*CircuitBreaker),
	}
}

// Get returns the breaker for a plugin, creating it closed on first use.
func (bs *BreakerSet) Get(pluginID string) *CircuitBreaker {
	bs.mu.RLock()
	cb, ok := bs.breakers[pluginID]
	bs.mu.RUnlock()
	if ok {
		return cb
	}

	bs.mu.Lock()
	defer bs.mu.Unlock()
	if cb, ok = bs.breakers[pluginID]; ok {
		return cb
	}
	cb = NewCircuitBreaker(pluginID, bs.store, bs.logger)
	bs.breakers[pluginID] = cb
	return cb
}

// Snapshots returns persistable views of every breaker.
func (bs *BreakerSet) Snapshots() []BreakerSnapshot {
	bs.mu.RLock()
	defer bs.mu.RUnlock()
	out := make([]BreakerSnapshot, 0, len(bs.breakers))
	for _, cb := range bs.breakers {
		out = append(out, cb.Snapshot())
	}
	return out
}

// Forget drops a plugin's breaker, called on unregister.
func (bs *BreakerSet) Forget(pluginID string) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	delete(bs.breakers, pluginID)
}
