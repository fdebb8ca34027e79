package base

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/quotewire/quotewire/pkg/config"
	"go.uber.org/zap"
)

// ewmaAlpha weights the newest outcome in the success-rate average.
const ewmaAlpha = 0.3

// HealthRecord is a point-in-time view of one plugin's health.
type HealthRecord struct {
	PluginID            string    `json:"plugin_id"`
	Score               float64   `json:"score"`
	SuccessRate         float64   `json:"success_rate"`
	P95LatencyMS        float64   `json:"p95_latency_ms"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastSuccess         time.Time `json:"last_success,omitempty"`
	LastFailure         time.Time `json:"last_failure,omitempty"`
	Samples             int       `json:"samples"`
}

type latencySample struct {
	at time.Time
	ms float64
}

// pluginHealth holds one plugin's rolling state behind its own lock, so
// recording outcomes for different plugins never contends.
type pluginHealth struct {
	mu                  sync.Mutex
	ewmaSuccess         float64
	seeded              bool
	latencies           []latencySample
	consecutiveFailures int
	lastSuccess         time.Time
	lastFailure         time.Time
}

// HealthMonitor tracks a rolling success-rate and latency score per plugin.
// The blended score feeds health-weighted routing only; circuit breaker
// state is driven by raw consecutive failures and stays independent of it.
type HealthMonitor struct {
	store  *config.Store
	logger *zap.Logger

	mu      sync.RWMutex
	plugins map[string]*pluginHealth
}

// NewHealthMonitor creates a monitor reading window settings from the
// config store, so threshold updates apply without restart.
func NewHealthMonitor(store *config.Store, logger *zap.Logger) *HealthMonitor {
	return &HealthMonitor{
		store:   store,
		logger:  logger.With(zap.String("component", "health_monitor")),
		plugins: make(map[string]*pluginHealth),
	}
}

func (hm *HealthMonitor) get(pluginID string) *pluginHealth {
	hm.mu.RLock()
	ph, ok := hm.plugins[pluginID]
	hm.mu.RUnlock()
	if ok {
		return ph
	}

	hm.mu.Lock()
	defer hm.mu.Unlock()
	if ph, ok = hm.plugins[pluginID]; ok {
		return ph
	}
	ph = &pluginHealth{}
	hm.plugins[pluginID] = ph
	return ph
}

// RecordOutcome folds one request outcome into the plugin's rolling state.
func (hm *HealthMonitor) RecordOutcome(pluginID string, success bool, latencyMS float64) {
	cfg := hm.store.Snapshot()
	ph := hm.get(pluginID)
	now := time.Now()

	ph.mu.Lock()
	defer ph.mu.Unlock()

	outcome := 0.0
	if success {
		outcome = 1.0
	}
	if !ph.seeded {
		ph.ewmaSuccess = outcome
		ph.seeded = true
	} else {
		ph.ewmaSuccess = ewmaAlpha*outcome + (1-ewmaAlpha)*ph.ewmaSuccess
	}

	if success {
		ph.consecutiveFailures = 0
		ph.lastSuccess = now
	} else {
		ph.consecutiveFailures++
		ph.lastFailure = now
	}

	ph.latencies = append(ph.latencies, latencySample{at: now, ms: latencyMS})
	ph.pruneLocked(now, cfg.Health.Window)
}

// pruneLocked drops latency samples outside the sliding window.
func (ph *pluginHealth) pruneLocked(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	i := 0
	for i < len(ph.latencies) && ph.latencies[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		ph.latencies = append(ph.latencies[:0], ph.latencies[i:]...)
	}
}

func (ph *pluginHealth) p95Locked() float64 {
	if len(ph.latencies) == 0 {
		return 0
	}
	ms := make([]float64, len(ph.latencies))
	for i, s := range ph.latencies {
		ms[i] = s.ms
	}
	sort.Float64s(ms)
	idx := int(math.Ceil(0.95*float64(len(ms)))) - 1
	if idx < 0 {
		idx = 0
	}
	return ms[idx]
}

// Score returns the blended health score in [0,1]:
// 0.5·success_rate + 0.3·(1 − normalized_p95_latency) + 0.2·recency.
// Unknown plugins score a neutral 0.5 so a fresh plugin is usable but not
// favored.
func (hm *HealthMonitor) Score(pluginID string) float64 {
	cfg := hm.store.Snapshot()

	hm.mu.RLock()
	ph, ok := hm.plugins[pluginID]
	hm.mu.RUnlock()
	if !ok {
		return 0.5
	}

	now := time.Now()
	ph.mu.Lock()
	defer ph.mu.Unlock()

	if !ph.seeded {
		return 0.5
	}

	ph.pruneLocked(now, cfg.Health.Window)

	normLatency := ph.p95Locked() / cfg.Health.LatencyCeilingMS
	if normLatency > 1 {
		normLatency = 1
	}

	recency := 0.0
	if !ph.lastSuccess.IsZero() {
		age := now.Sub(ph.lastSuccess)
		recency = math.Exp(-float64(age) / float64(cfg.Health.Window))
	}

	score := 0.5*ph.ewmaSuccess + 0.3*(1-normLatency) + 0.2*recency
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// Record returns a snapshot of one plugin's health, or false if unknown.
func (hm *HealthMonitor) Record(pluginID string) (HealthRecord, bool) {
	hm.mu.RLock()
	ph, ok := hm.plugins[pluginID]
	hm.mu.RUnlock()
	if !ok {
		return HealthRecord{}, false
	}

	score := hm.Score(pluginID)

	ph.mu.Lock()
	defer ph.mu.Unlock()
	return HealthRecord{
		PluginID:            pluginID,
		Score:               score,
		SuccessRate:         ph.ewmaSuccess,
		P95LatencyMS:        ph.p95Locked(),
		ConsecutiveFailures: ph.consecutiveFailures,
		LastSuccess:         ph.lastSuccess,
		LastFailure:         ph.lastFailure,
		Samples:             len(ph.latencies),
	}, true
}

// Records returns snapshots for every tracked plugin.
func (hm *HealthMonitor) Records() []HealthRecord {
	hm.mu.RLock()
	ids := make([]string, 0, len(hm.plugins))
	for id := range hm.plugins {
		ids = append(ids, id)
	}
	hm.mu.RUnlock()

	sort.Strings(ids)
	out := make([]HealthRecord, 0, len(ids))
	for _, id := range ids {
		if rec, ok := hm.Record(id); ok {
			out = append(out, rec)
		}
	}
	return out
}

// Restore seeds a plugin's state from a persisted record, used for warm
// restarts. Latency samples are not restored; only the averages carry over.
func (hm *HealthMonitor) Restore(rec HealthRecord) {
	ph := hm.get(rec.PluginID)
	ph.mu.Lock()
	defer ph.mu.Unlock()
	ph.ewmaSuccess = rec.SuccessRate
	ph.seeded = rec.Samples > 0 || rec.SuccessRate > 0
	ph.consecutiveFailures = rec.ConsecutiveFailures
	ph.lastSuccess = rec.LastSuccess
	ph.lastFailure = rec.LastFailure
}

// Forget drops all state for a plugin, called on unregister.
func (hm *HealthMonitor) Forget(pluginID string) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	delete(hm.plugins, pluginID)
}
