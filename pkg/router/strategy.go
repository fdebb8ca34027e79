// Package router selects a data-source plugin for each query and manages
// fallback, health accounting and failure isolation around the selection.
package router

import (
	"math/rand"
	"sort"
	"sync"

	"github.com/quotewire/quotewire/pkg/config"
	"github.com/quotewire/quotewire/pkg/errors"
	"github.com/quotewire/quotewire/pkg/plugin/base"
	"github.com/quotewire/quotewire/pkg/plugin/core"
)

// Candidate is one eligible plugin presented to a strategy. Strategies are
// pure selection functions over this set; they perform no I/O and never
// mutate shared router state.
type Candidate struct {
	Descriptor    core.Descriptor
	HealthScore   float64
	CircuitState  base.CircuitState
	ProbeInFlight bool
}

// Strategy picks one candidate for a query.
type Strategy interface {
	Name() config.StrategyName
	Select(candidates []Candidate, query core.StandardQuery) (Candidate, error)
}

func errNoCandidates(query core.StandardQuery) error {
	return errors.Newf(errors.ErrorTypeAllSourcesFailed,
		"no eligible plugin for %s", query.Capability().Key())
}

// byPriority orders candidates by priority descending, plugin id ascending.
func byPriority(candidates []Candidate) []Candidate {
	out := append([]Candidate(nil), candidates...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Descriptor.Priority != out[j].Descriptor.Priority {
			return out[i].Descriptor.Priority > out[j].Descriptor.Priority
		}
		return out[i].Descriptor.ID < out[j].Descriptor.ID
	})
	return out
}

// PriorityStrategy picks the highest-priority candidate, tie-broken by
// plugin id.
type PriorityStrategy struct{}

// NewPriorityStrategy creates a priority strategy.
func NewPriorityStrategy() *PriorityStrategy { return &PriorityStrategy{} }

// Name returns the strategy name.
func (s *PriorityStrategy) Name() config.StrategyName { return config.StrategyPriority }

// Select picks the best candidate by priority.
func (s *PriorityStrategy) Select(candidates []Candidate, query core.StandardQuery) (Candidate, error) {
	if len(candidates) == 0 {
		return Candidate{}, errNoCandidates(query)
	}
	return byPriority(candidates)[0], nil
}

// RoundRobinStrategy rotates through candidates per capability. The cursor
// remembers the last plugin actually selected; ineligible plugins are
// skipped without permanently advancing past them, so a plugin that was
// temporarily excluded is not starved when it returns.
type RoundRobinStrategy struct {
	mu   sync.Mutex
	last map[string]string // capability key -> last selected plugin id
}

// NewRoundRobinStrategy creates a round-robin strategy.
func NewRoundRobinStrategy() *RoundRobinStrategy {
	return &RoundRobinStrategy{last: make(map[string]string)}
}

// Name returns the strategy name.
func (s *RoundRobinStrategy) Name() config.StrategyName { return config.StrategyRoundRobin }

// Select picks the next candidate after the previously selected one, in
// plugin-id order.
func (s *RoundRobinStrategy) Select(candidates []Candidate, query core.StandardQuery) (Candidate, error) {
	if len(candidates) == 0 {
		return Candidate{}, errNoCandidates(query)
	}

	ordered := append([]Candidate(nil), candidates...)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].Descriptor.ID < ordered[j].Descriptor.ID
	})

	key := query.Capability().Key()

	s.mu.Lock()
	defer s.mu.Unlock()

	last := s.last[key]
	chosen := ordered[0]
	if last != "" {
		for _, c := range ordered {
			if c.Descriptor.ID > last {
				chosen = c
				break
			}
		}
	}

	s.last[key] = chosen.Descriptor.ID
	return chosen, nil
}

// HealthWeightedStrategy picks a candidate at random with probability
// proportional to health score × descriptor weight. Candidates below the
// configured health floor are excluded. When every weight is zero it falls
// back deterministically to priority selection.
type HealthWeightedStrategy struct {
	store    *config.Store
	fallback *PriorityStrategy

	mu  sync.Mutex
	rng *rand.Rand
}

// NewHealthWeightedStrategy creates a health-weighted strategy seeded from
// the given source. Tests pass a fixed seed for reproducibility.
func NewHealthWeightedStrategy(store *config.Store, seed int64) *HealthWeightedStrategy {
	return &HealthWeightedStrategy{
		store:    store,
		fallback: NewPriorityStrategy(),
		rng:      rand.New(rand.NewSource(seed)), //nolint:gosec // selection jitter, not crypto
	}
}

// Name returns the strategy name.
func (s *HealthWeightedStrategy) Name() config.StrategyName { return config.StrategyHealthWeighted }

// Select performs the weighted-random pick.
func (s *HealthWeightedStrategy) Select(candidates []Candidate, query core.StandardQuery) (Candidate, error) {
	if len(candidates) == 0 {
		return Candidate{}, errNoCandidates(query)
	}

	floor := s.store.Snapshot().Routing.HealthFloor

	weighted := make([]Candidate, 0, len(candidates))
	weights := make([]float64, 0, len(candidates))
	total := 0.0
	for _, c := range candidates {
		if c.HealthScore < floor {
			continue
		}
		w := c.HealthScore * c.Descriptor.Weight
		if w <= 0 {
			continue
		}
		weighted = append(weighted, c)
		weights = append(weights, w)
		total += w
	}

	if total == 0 {
		return s.fallback.Select(candidates, query)
	}

	s.mu.Lock()
	pick := s.rng.Float64() * total
	s.mu.Unlock()

	for i, c := range weighted {
		pick -= weights[i]
		if pick < 0 {
			return c, nil
		}
	}
	return weighted[len(weighted)-1], nil
}

// CircuitBreakerAwareStrategy wraps another strategy with circuit-state
// filtering. Open circuits are excluded outright, and at most one plugin per
// capability group may hold an active HALF_OPEN probe at a time, preventing
// a thundering herd of simultaneous probes against recovering vendors.
type CircuitBreakerAwareStrategy struct {
	inner Strategy
}

// NewCircuitBreakerAwareStrategy wraps the inner strategy.
func NewCircuitBreakerAwareStrategy(inner Strategy) *CircuitBreakerAwareStrategy {
	return &CircuitBreakerAwareStrategy{inner: inner}
}

// Name returns the strategy name.
func (s *CircuitBreakerAwareStrategy) Name() config.StrategyName {
	return config.StrategyCircuitBreakerAware
}

// Select filters by circuit state, then delegates to the inner strategy.
func (s *CircuitBreakerAwareStrategy) Select(candidates []Candidate, query core.StandardQuery) (Candidate, error) {
	probing := false
	for _, c := range candidates {
		if c.ProbeInFlight {
			probing = true
			break
		}
	}

	filtered := make([]Candidate, 0, len(candidates))
	var halfOpen []Candidate
	for _, c := range candidates {
		switch c.CircuitState {
		case base.CircuitClosed:
			filtered = append(filtered, c)
		case base.CircuitHalfOpen:
			if !probing {
				halfOpen = append(halfOpen, c)
			}
		}
	}

	// Admit a single recovering plugin per group.
	if len(halfOpen) > 0 {
		sort.Slice(halfOpen, func(i, j int) bool {
			return halfOpen[i].Descriptor.ID < halfOpen[j].Descriptor.ID
		})
		filtered = append(filtered, halfOpen[0])
	}

	return s.inner.Select(filtered, query)
}

// buildStrategy constructs the configured strategy by name.
func buildStrategy(name config.StrategyName, store *config.Store, seed int64) Strategy {
	switch name {
	case config.StrategyRoundRobin:
		return NewRoundRobinStrategy()
	case config.StrategyHealthWeighted:
		return NewHealthWeightedStrategy(store, seed)
	case config.StrategyCircuitBreakerAware:
		return NewCircuitBreakerAwareStrategy(NewHealthWeightedStrategy(store, seed))
	default:
		return NewPriorityStrategy()
	}
}
