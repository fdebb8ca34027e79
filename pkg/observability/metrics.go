// Package observability provides metrics and tracing for quotewire.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	routeDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "quotewire",
			Subsystem: "router",
			Name:      "route_decisions_total",
			Help:      "Total routing decisions by capability, strategy and status",
		},
		[]string{"capability", "strategy", "status"},
	)

	fallbackDepth = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "quotewire",
			Subsystem: "router",
			Name:      "fallback_depth",
			Help:      "How many fallback plugins were tried before success",
			Buckets:   []float64{0, 1, 2, 3, 4, 5},
		},
		[]string{"capability"},
	)

	breakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "quotewire",
			Subsystem: "breaker",
			Name:      "transitions_total",
			Help:      "Circuit breaker state transitions",
		},
		[]string{"plugin", "to_state"},
	)

	healthScore = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "quotewire",
			Subsystem: "health",
			Name:      "score",
			Help:      "Current blended health score per plugin",
		},
		[]string{"plugin"},
	)

	connectAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "quotewire",
			Subsystem: "connection",
			Name:      "attempts_total",
			Help:      "Plugin connect attempts by result",
		},
		[]string{"plugin", "status"},
	)

	pipelineDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "quotewire",
			Subsystem: "pipeline",
			Name:      "process_duration_seconds",
			Help:      "Standardization pipeline duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		},
		[]string{"capability", "status"},
	)

	qualityScores = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "quotewire",
			Subsystem: "pipeline",
			Name:      "quality_score",
			Help:      "Quality score distribution of standardized results",
			Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
		[]string{"capability", "plugin"},
	)

	degradedResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "quotewire",
			Subsystem: "pipeline",
			Name:      "degraded_results_total",
			Help:      "Results that fell back to the rename-only mapping",
		},
		[]string{"capability", "plugin"},
	)
)

// RecordRouteDecision records one routing decision.
func RecordRouteDecision(capability, strategy, status string) {
	routeDecisions.WithLabelValues(capability, strategy, status).Inc()
}

// RecordFallbackDepth records how many fallbacks a request consumed.
func RecordFallbackDepth(capability string, depth int) {
	fallbackDepth.WithLabelValues(capability).Observe(float64(depth))
}

// RecordBreakerTransition records a circuit state change.
func RecordBreakerTransition(plugin, toState string) {
	breakerTransitions.WithLabelValues(plugin, toState).Inc()
}

// SetHealthScore publishes a plugin's current blended score.
func SetHealthScore(plugin string, score float64) {
	healthScore.WithLabelValues(plugin).Set(score)
}

// RecordConnectAttempt records a connect attempt result.
func RecordConnectAttempt(plugin, status string) {
	connectAttempts.WithLabelValues(plugin, status).Inc()
}

// RecordPipelineDuration records one pipeline run.
func RecordPipelineDuration(capability, status string, seconds float64) {
	pipelineDuration.WithLabelValues(capability, status).Observe(seconds)
}

// RecordQualityScore records the quality score of a result.
func RecordQualityScore(capability, plugin string, score float64) {
	qualityScores.WithLabelValues(capability, plugin).Observe(score)
}

// RecordDegradedResult counts a rename-only fallback result.
func RecordDegradedResult(capability, plugin string) {
	degradedResults.WithLabelValues(capability, plugin).Inc()
}
