package observability

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

var (
	tracer   trace.Tracer = noop.NewTracerProvider().Tracer("quotewire")
	initOnce sync.Once
)

// TracingConfig contains tracing configuration.
type TracingConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	SamplingRate   float64
}

// InitTracing installs a global tracer provider with a stdout exporter.
// Without initialization all spans are no-ops, so library code can create
// spans unconditionally.
func InitTracing(cfg TracingConfig) error {
	var initErr error
	initOnce.Do(func() {
		res, err := resource.New(context.Background(),
			resource.WithAttributes(
				semconv.ServiceNameKey.String(cfg.ServiceName),
				semconv.ServiceVersionKey.String(cfg.ServiceVersion),
				semconv.DeploymentEnvironmentKey.String(cfg.Environment),
			),
		)
		if err != nil {
			initErr = fmt.Errorf("failed to create resource: %w", err)
			return
		}

		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			initErr = fmt.Errorf("failed to create stdout exporter: %w", err)
			return
		}

		var sampler sdktrace.Sampler
		switch {
		case cfg.SamplingRate <= 0:
			sampler = sdktrace.NeverSample()
		case cfg.SamplingRate >= 1.0:
			sampler = sdktrace.AlwaysSample()
		default:
			sampler = sdktrace.TraceIDRatioBased(cfg.SamplingRate)
		}

		tp := sdktrace.NewTracerProvider(
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sampler),
			sdktrace.WithBatcher(exporter),
		)
		otel.SetTracerProvider(tp)
		tracer = tp.Tracer(cfg.ServiceName)
	})
	return initErr
}

// StartSpan begins a span with the given name and attributes.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

// EndSpan finishes a span, recording err when non-nil.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
