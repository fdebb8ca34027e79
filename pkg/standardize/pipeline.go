package standardize

import (
	"context"
	"time"

	"github.com/quotewire/quotewire/pkg/config"
	"github.com/quotewire/quotewire/pkg/errors"
	"github.com/quotewire/quotewire/pkg/observability"
	"github.com/quotewire/quotewire/pkg/plugin/core"
	"github.com/quotewire/quotewire/pkg/plugin/registry"
	"github.com/quotewire/quotewire/pkg/router"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// degradedScale caps the quality score of rename-only fallback results.
const degradedScale = 0.5

// Pipeline is the consumer-facing entry point: it routes a query, fetches
// from the chosen plugin, retries against the fallback list, and
// standardizes the winning payload. Vendor-side schema bugs degrade the
// result instead of failing it; only routing timeouts and full source
// exhaustion propagate as hard errors.
type Pipeline struct {
	router   *router.Router
	registry *registry.Registry
	mapper   *FieldMappingEngine
	store    *config.Store
	logger   *zap.Logger
}

// NewPipeline constructs a pipeline over a router and registry.
func NewPipeline(rt *router.Router, reg *registry.Registry, mapper *FieldMappingEngine, store *config.Store, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		router:   rt,
		registry: reg,
		mapper:   mapper,
		store:    store,
		logger:   logger.With(zap.String("component", "pipeline")),
	}
}

// Process routes the query, fetches, and returns standardized data.
func (p *Pipeline) Process(ctx context.Context, query core.StandardQuery) (*core.StandardData, error) {
	capability := query.Capability()
	ctx, span := observability.StartSpan(ctx, "pipeline.Process",
		attribute.String("capability", capability.Key()),
		attribute.String("symbol", query.Symbol))
	start := time.Now()

	data, err := p.process(ctx, query)

	status := "ok"
	switch {
	case err != nil:
		status = "error"
	case data.Degraded:
		status = "degraded"
	}
	observability.RecordPipelineDuration(capability.Key(), status, time.Since(start).Seconds())
	observability.EndSpan(span, err)
	return data, err
}

func (p *Pipeline) process(ctx context.Context, query core.StandardQuery) (*core.StandardData, error) {
	result, err := p.router.Route(ctx, query)
	if err != nil {
		return nil, err
	}

	cfg := p.store.Snapshot()
	attempts := append([]string{result.ChosenPluginID}, result.Fallbacks...)
	maxAttempts := cfg.Routing.MaxFallbackAttempts + 1
	if len(attempts) > maxAttempts {
		attempts = attempts[:maxAttempts]
	}

	var lastErr error
	for i, pluginID := range attempts {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, errors.Wrap(ctxErr, errors.ErrorTypeTimeout, "deadline exceeded during fetch")
		}

		data, err := p.fetchAndStandardize(ctx, pluginID, query)
		if err == nil {
			observability.RecordFallbackDepth(query.Capability().Key(), i)
			return data, nil
		}
		lastErr = err

		if !errors.IsRetryable(err) {
			return nil, err
		}
		p.logger.Warn("plugin fetch failed, trying fallback",
			zap.String("plugin", pluginID),
			zap.String("symbol", query.Symbol),
			zap.Error(err))
	}

	return nil, errors.Wrap(lastErr, errors.ErrorTypeAllSourcesFailed,
		"every routed plugin failed for "+query.Capability().Key())
}

// fetchAndStandardize performs one plugin attempt: the vendor fetch, the
// outcome report, and standardization. Schema errors surface as a degraded
// result, not an error, so they never consume a fallback attempt against a
// healthy payload.
func (p *Pipeline) fetchAndStandardize(ctx context.Context, pluginID string, query core.StandardQuery) (*core.StandardData, error) {
	plugin, ok := p.registry.Get(pluginID)
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeConnection, "plugin %s disappeared during routing", pluginID)
	}

	start := time.Now()
	raw, err := plugin.Fetch(ctx, query)
	latencyMS := float64(time.Since(start).Milliseconds())

	if err != nil {
		wrapped := classifyFetchError(err, pluginID)
		p.router.ReportOutcome(pluginID, false, latencyMS, wrapped)
		return nil, wrapped
	}
	if raw == nil || len(raw.Columns) == 0 {
		wrapped := errors.Newf(errors.ErrorTypeSchema, "plugin %s returned an empty payload", pluginID)
		p.router.ReportOutcome(pluginID, false, latencyMS, wrapped)
		return nil, wrapped
	}

	p.router.ReportOutcome(pluginID, true, latencyMS, nil)

	return p.Standardize(raw, query.DataType, pluginID, start)
}

// classifyFetchError maps plugin errors onto the routing taxonomy;
// untyped errors are treated as transient connection failures.
func classifyFetchError(err error, pluginID string) error {
	if errors.IsType(err, errors.ErrorTypeSchema) ||
		errors.IsType(err, errors.ErrorTypeTimeout) ||
		errors.IsType(err, errors.ErrorTypeConnection) {
		return err
	}
	return errors.Wrap(err, errors.ErrorTypeConnection, "fetch failed for plugin "+pluginID)
}

// Standardize runs map → coerce → clean → validate → score on a raw
// payload. Validation failure falls back to the rename-only mapping with a
// capped quality score rather than dropping the request.
func (p *Pipeline) Standardize(raw *core.RawTable, dataType core.DataType, pluginID string, fetchedAt time.Time) (*core.StandardData, error) {
	cfg := p.store.Snapshot().Standardize

	specs, err := p.mapper.Schema(dataType)
	if err != nil {
		return nil, err
	}

	mapped, err := p.mapper.MapFields(raw, dataType)
	if err != nil {
		if errors.IsType(err, errors.ErrorTypeSchema) {
			return p.degrade(raw, dataType, pluginID, fetchedAt, err.Error()), nil
		}
		return nil, err
	}

	coerceTable(mapped.Table, specs)
	cleanTable(mapped.Table, specs, cfg.OutlierSigma)

	report := validateTable(mapped.Table, dataType, specs, cfg)
	if !report.Valid {
		p.logger.Warn("validation failed, falling back to pass-through mapping",
			zap.String("plugin", pluginID),
			zap.Strings("warnings", report.Warnings))
		return p.degrade(raw, dataType, pluginID, fetchedAt, report.Warnings...), nil
	}

	freshness := freshnessFactor(mapped.Table, fetchedAt, cfg.FreshnessHorizon)
	score := ComputeQualityScore(report.Completeness, report.Validity, freshness)

	data := &core.StandardData{
		Table:          mapped.Table,
		QualityScore:   score,
		SourcePluginID: pluginID,
		FetchedAt:      fetchedAt,
		MissingFields:  mapped.MissingFields,
		Warnings:       report.Warnings,
	}
	observability.RecordQualityScore(string(dataType), pluginID, score)
	return data, nil
}

// degrade produces the rename-only fallback result with a low score.
func (p *Pipeline) degrade(raw *core.RawTable, dataType core.DataType, pluginID string, fetchedAt time.Time, warnings ...string) *core.StandardData {
	cfg := p.store.Snapshot().Standardize
	table := p.mapper.PassThrough(raw, dataType)

	specs, _ := p.mapper.Schema(dataType)
	report := validateTable(table, dataType, specs, cfg)
	freshness := freshnessFactor(table, fetchedAt, cfg.FreshnessHorizon)
	score := degradedScale * ComputeQualityScore(report.Completeness, report.Validity, freshness)

	observability.RecordDegradedResult(string(dataType), pluginID)
	observability.RecordQualityScore(string(dataType), pluginID, score)

	return &core.StandardData{
		Table:          table,
		QualityScore:   score,
		SourcePluginID: pluginID,
		FetchedAt:      fetchedAt,
		Degraded:       true,
		Warnings:       warnings,
	}
}
