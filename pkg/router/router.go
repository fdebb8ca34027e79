package router

import (
	"context"
	"sync"

	"github.com/quotewire/quotewire/pkg/config"
	"github.com/quotewire/quotewire/pkg/errors"
	"github.com/quotewire/quotewire/pkg/observability"
	"github.com/quotewire/quotewire/pkg/plugin/base"
	"github.com/quotewire/quotewire/pkg/plugin/core"
	"github.com/quotewire/quotewire/pkg/plugin/registry"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// RouteResult names the chosen plugin and the ordered fallback list the
// caller may retry against.
type RouteResult struct {
	ChosenPluginID string
	Fallbacks      []string
	Strategy       config.StrategyName
	// Degraded is set when circuit state was ignored because every candidate
	// was excluded by its breaker
	Degraded bool
}

// Router selects a plugin for each query. It owns the shared health,
// breaker and connection state for all plugins, but performs no I/O itself:
// the actual fetch against the chosen plugin is the caller's job, reported
// back through ReportOutcome. Routers are plain constructed values with
// injected dependencies; tests run isolated instances freely.
type Router struct {
	registry *registry.Registry
	store    *config.Store
	health   *base.HealthMonitor
	breakers *base.BreakerSet
	pool     *base.ConnectPool
	logger   *zap.Logger
	seed     int64

	connMu      sync.RWMutex
	connections map[string]*base.Connection
	limiters    map[string]*base.RateLimiter

	// copy-on-write candidate snapshot, invalidated on capability changes
	snapMu      sync.Mutex
	snapVersion uint64
	snapshot    map[string][]core.Descriptor

	stratMu    sync.Mutex
	strategies map[config.StrategyName]Strategy

	stopOnce sync.Once
	stopCh   chan struct{}
}

// Option customizes router construction.
type Option func(*Router)

// WithSeed fixes the random seed used by weighted selection, for tests.
func WithSeed(seed int64) Option {
	return func(r *Router) { r.seed = seed }
}

// WithLogger overrides the router's logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// New constructs a router around a registry and config store.
func New(reg *registry.Registry, store *config.Store, logger *zap.Logger, opts ...Option) *Router {
	cfg := store.Snapshot()

	r := &Router{
		registry:    reg,
		store:       store,
		logger:      logger.With(zap.String("component", "router")),
		seed:        1,
		connections: make(map[string]*base.Connection),
		limiters:    make(map[string]*base.RateLimiter),
		snapshot:    make(map[string][]core.Descriptor),
		strategies:  make(map[config.StrategyName]Strategy),
		stopCh:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}

	r.health = base.NewHealthMonitor(store, r.logger)
	r.breakers = base.NewBreakerSet(store, r.logger)
	r.pool = base.NewConnectPool(cfg.Connect.MaxConcurrent)

	go r.watchCapabilities(reg.Subscribe())
	return r
}

// Close stops background work. The router remains usable for selection but
// no longer reacts to capability events.
func (r *Router) Close() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

// watchCapabilities invalidates the candidate snapshot and drops per-plugin
// state when plugins come and go.
func (r *Router) watchCapabilities(events <-chan registry.CapabilityChange) {
	for {
		select {
		case <-r.stopCh:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			r.snapMu.Lock()
			r.snapshot = make(map[string][]core.Descriptor)
			r.snapMu.Unlock()

			if ev.Type == registry.ChangeUnregistered {
				r.health.Forget(ev.PluginID)
				r.breakers.Forget(ev.PluginID)
				r.connMu.Lock()
				delete(r.connections, ev.PluginID)
				delete(r.limiters, ev.PluginID)
				r.connMu.Unlock()
			}
		}
	}
}

// AddPlugin registers a plugin, initializes it synchronously and starts its
// background connect. Callers that need readiness can poll IsReady or use
// WaitUntilReady on the returned connection.
func (r *Router) AddPlugin(p core.Plugin, settings map[string]string, replace bool) (*base.Connection, error) {
	desc := p.Descriptor()
	if err := r.registry.Register(desc, p, replace); err != nil {
		return nil, err
	}

	cfg := r.store.Snapshot()
	conn := base.NewConnection(p, r.pool, cfg.Connect.Timeout, r.logger)

	r.connMu.Lock()
	r.connections[desc.ID] = conn
	r.limiters[desc.ID] = base.NewRateLimiter(float64(cfg.Routing.RateLimitPerSec), cfg.Routing.RateLimitPerSec+1)
	r.connMu.Unlock()

	if err := conn.Initialize(settings); err != nil {
		return conn, err
	}
	conn.ConnectAsync()
	return conn, nil
}

// RemovePlugin unregisters a plugin and drops its runtime state.
func (r *Router) RemovePlugin(id string) error {
	return r.registry.Unregister(id)
}

// Connection returns the lifecycle wrapper for a plugin.
func (r *Router) Connection(id string) (*base.Connection, bool) {
	r.connMu.RLock()
	defer r.connMu.RUnlock()
	conn, ok := r.connections[id]
	return conn, ok
}

// Health exposes the router's health monitor.
func (r *Router) Health() *base.HealthMonitor { return r.health }

// Breakers exposes the router's breaker set.
func (r *Router) Breakers() *base.BreakerSet { return r.breakers }

// candidates returns the cached candidate list for a capability, refreshing
// the copy-on-write snapshot when the registry changed.
func (r *Router) candidates(capability core.Capability) []core.Descriptor {
	version := r.registry.Version()

	r.snapMu.Lock()
	defer r.snapMu.Unlock()

	if r.snapVersion != version {
		r.snapshot = make(map[string][]core.Descriptor)
		r.snapVersion = version
	}
	if list, ok := r.snapshot[capability.Key()]; ok {
		return list
	}
	list := r.registry.FindCandidates(capability.Asset, capability.Data)
	r.snapshot[capability.Key()] = list
	return list
}

// strategyFor returns the configured strategy for a capability, reusing
// instances so rotation cursors survive across calls.
func (r *Router) strategyFor(capability core.Capability) Strategy {
	name := r.store.Snapshot().StrategyFor(capability.Key())

	r.stratMu.Lock()
	defer r.stratMu.Unlock()
	if s, ok := r.strategies[name]; ok {
		return s
	}
	s := buildStrategy(name, r.store, r.seed)
	r.strategies[name] = s
	return s
}

// Route picks a plugin for the query. It is synchronous and non-blocking,
// bounded only by registry size, and honors the caller's deadline: if the
// context is already done it returns a timeout error immediately.
// In-flight connect attempts are deliberately not cancelled by the caller's
// deadline; they are background work intended for future reuse.
func (r *Router) Route(ctx context.Context, query core.StandardQuery) (RouteResult, error) {
	capability := query.Capability()
	_, span := observability.StartSpan(ctx, "router.Route",
		attribute.String("capability", capability.Key()),
		attribute.String("symbol", query.Symbol))

	result, err := r.route(ctx, query)

	status := "ok"
	if err != nil {
		status = "error"
	} else if result.Degraded {
		status = "degraded"
	}
	observability.RecordRouteDecision(capability.Key(), string(result.Strategy), status)
	observability.EndSpan(span, err)
	return result, err
}

func (r *Router) route(ctx context.Context, query core.StandardQuery) (RouteResult, error) {
	if err := ctx.Err(); err != nil {
		return RouteResult{}, errors.Wrap(err, errors.ErrorTypeTimeout, "deadline exceeded before routing")
	}

	capability := query.Capability()
	candidates := r.candidates(capability)
	if len(candidates) == 0 {
		return RouteResult{}, errors.Newf(errors.ErrorTypeNotFound,
			"no plugin serves %s", capability.Key())
	}

	connected := make([]core.Descriptor, 0, len(candidates))
	for _, desc := range candidates {
		if conn, ok := r.Connection(desc.ID); ok && conn.IsReady() {
			connected = append(connected, desc)
		}
	}
	if len(connected) == 0 {
		return RouteResult{}, errors.Newf(errors.ErrorTypeAllSourcesFailed,
			"no connected plugin for %s", capability.Key())
	}

	eligible := make([]Candidate, 0, len(connected))
	for _, desc := range connected {
		cb := r.breakers.Get(desc.ID)
		if !cb.WouldAllow() {
			continue
		}
		eligible = append(eligible, r.candidate(desc, cb))
	}

	degraded := false
	if len(eligible) == 0 {
		// Every connected candidate is excluded by its breaker. Degrade
		// gracefully instead of failing hard: ignore circuit state.
		degraded = true
		r.logger.Warn("degraded routing: ignoring circuit state",
			zap.String("capability", capability.Key()),
			zap.Int("candidates", len(connected)))
		for _, desc := range connected {
			c := r.candidate(desc, r.breakers.Get(desc.ID))
			// Circuit state is being ignored; present candidates as closed
			// so circuit-aware strategies do not re-filter them.
			c.CircuitState = base.CircuitClosed
			c.ProbeInFlight = false
			eligible = append(eligible, c)
		}
	}

	if err := ctx.Err(); err != nil {
		return RouteResult{}, errors.Wrap(err, errors.ErrorTypeTimeout, "deadline exceeded during routing")
	}

	strategy := r.strategyFor(capability)

	for len(eligible) > 0 {
		chosen, err := strategy.Select(eligible, query)
		if err != nil {
			return RouteResult{Strategy: strategy.Name(), Degraded: degraded}, err
		}

		id := chosen.Descriptor.ID
		if !degraded {
			// Claim the slot; a concurrent claim on a half-open breaker
			// loses the race and falls through to the next candidate.
			if claimErr := r.breakers.Get(id).CanExecute(); claimErr != nil {
				eligible = remove(eligible, id)
				continue
			}
		}

		if lim := r.limiter(id); lim != nil && !lim.Allow() {
			eligible = remove(eligible, id)
			continue
		}

		fallbacks := make([]string, 0, len(eligible)-1)
		for _, c := range byPriority(eligible) {
			if c.Descriptor.ID != id {
				fallbacks = append(fallbacks, c.Descriptor.ID)
			}
		}

		return RouteResult{
			ChosenPluginID: id,
			Fallbacks:      fallbacks,
			Strategy:       strategy.Name(),
			Degraded:       degraded,
		}, nil
	}

	return RouteResult{Strategy: strategy.Name(), Degraded: degraded},
		errors.Newf(errors.ErrorTypeAllSourcesFailed,
			"all plugins for %s rejected the request", capability.Key())
}

func (r *Router) candidate(desc core.Descriptor, cb *base.CircuitBreaker) Candidate {
	return Candidate{
		Descriptor:    desc,
		HealthScore:   r.health.Score(desc.ID),
		CircuitState:  cb.State(),
		ProbeInFlight: cb.ProbeInFlight(),
	}
}

func (r *Router) limiter(id string) *base.RateLimiter {
	r.connMu.RLock()
	defer r.connMu.RUnlock()
	return r.limiters[id]
}

func remove(candidates []Candidate, id string) []Candidate {
	out := candidates[:0]
	for _, c := range candidates {
		if c.Descriptor.ID != id {
			out = append(out, c)
		}
	}
	return out
}

// ReportOutcome feeds a fetch result back into health and breaker state.
// Schema errors and circuit-open rejections never count as breaker
// failures; a schema error on a half-open probe still proves connectivity,
// so the circuit treats it as a success while the health score records the
// failure.
func (r *Router) ReportOutcome(pluginID string, success bool, latencyMS float64, err error) {
	r.health.RecordOutcome(pluginID, success, latencyMS)
	observability.SetHealthScore(pluginID, r.health.Score(pluginID))

	cb := r.breakers.Get(pluginID)
	switch {
	case success:
		cb.RecordSuccess()
	case errors.CountsAsBreakerFailure(err):
		cb.RecordFailure()
	default:
		cb.RecordSuccess()
	}
}
