package router

import (
	"time"

	"go.uber.org/zap"
)

// StartHealthChecks launches a background poll of every registered plugin's
// own liveness probe, feeding the results into the health monitor so scores
// decay even for plugins receiving no traffic. The loop stops with Close.
// A zero check interval disables the poller.
func (r *Router) StartHealthChecks() {
	interval := r.store.Snapshot().Health.CheckInterval
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-r.stopCh:
				return
			case <-ticker.C:
				r.pollOnce()
			}
		}
	}()
}

func (r *Router) pollOnce() {
	for _, desc := range r.registry.ListDescriptors() {
		conn, ok := r.Connection(desc.ID)
		if !ok || !conn.IsReady() {
			continue
		}

		res := conn.Plugin().HealthCheck()
		r.health.RecordOutcome(desc.ID, res.Healthy, res.LatencyMS)

		if !res.Healthy {
			r.logger.Warn("plugin health check failed",
				zap.String("plugin", desc.ID),
				zap.String("detail", res.Detail))
		}
	}
}
