// Package quotewire provides a market data routing and standardization
// engine. Heterogeneous data sources register as plugins declaring which
// (asset type, data type) pairs they serve; every query is routed to the
// best available source and the vendor payload is normalized into a
// canonical schema with an attached quality score.
//
// # Architecture
//
// Quotewire is organized around four cooperating layers:
//
// 1. Plugin contract and registry: sources implement core.Plugin, declare
// capabilities in an immutable descriptor, and register through an explicit
// registry. Capability discovery never inspects a plugin at call time.
//
// 2. Per-plugin runtime state: each source gets its own connection state
// machine with non-blocking async connect, a rolling health score, a
// circuit breaker with exponential cooldown, and an optional rate limiter.
// State is isolated per plugin; recording an outcome for one source never
// contends with another.
//
// 3. Routing: pluggable strategies (priority, round-robin, health-weighted,
// circuit-breaker-aware) select among connected, breaker-admitted
// candidates. When every candidate is excluded by its breaker the router
// degrades gracefully and routes anyway, flagging the result.
//
// 4. Standardization: vendor columns are mapped onto a canonical schema via
// an alias table, values are coerced and cleaned, and the result is
// validated and scored. Payloads failing validation fall back to a
// rename-only mapping marked as degraded rather than failing the request.
//
// # Quick Start
//
// Route one query through a simulated source:
//
//	import (
//	    "context"
//	    "github.com/quotewire/quotewire/pkg/config"
//	    "github.com/quotewire/quotewire/pkg/logger"
//	    "github.com/quotewire/quotewire/pkg/plugin/core"
//	    "github.com/quotewire/quotewire/pkg/plugin/registry"
//	    "github.com/quotewire/quotewire/pkg/router"
//	    "github.com/quotewire/quotewire/pkg/standardize"
//
//	    _ "github.com/quotewire/quotewire/pkg/plugin/sources/sim"
//	)
//
//	store, _ := config.NewStore(config.Default())
//	reg := registry.New()
//	rt := router.New(reg, store, logger.Get())
//	defer rt.Close()
//
//	p, _ := registry.CreatePlugin("sim", map[string]string{
//	    "descriptor": `{"id":"sim-a","asset_types":["STOCK"],"data_types":["KLINE"],"priority":10,"weight":1}`,
//	})
//	conn, _ := rt.AddPlugin(p, nil, false)
//	conn.WaitUntilReady(time.Second)
//
//	pipeline := standardize.NewPipeline(rt, reg, standardize.NewFieldMappingEngine(), store, logger.Get())
//	data, _ := pipeline.Process(context.Background(), core.StandardQuery{
//	    Symbol: "AAPL", AssetType: core.AssetStock, DataType: core.DataKline, Period: "1d",
//	})
//
// # Key Packages
//
//	pkg/plugin/core      - Plugin contract, descriptors, queries, payloads
//	pkg/plugin/registry  - Capability registry and factory registration
//	pkg/plugin/base      - Connection lifecycle, health, circuit breaking
//	pkg/router           - Strategy-driven routing and state snapshots
//	pkg/standardize      - Field mapping, validation and quality scoring
//	pkg/config           - Unified configuration with atomic hot reload
//	pkg/observability    - Prometheus metrics and OpenTelemetry tracing
package quotewire
