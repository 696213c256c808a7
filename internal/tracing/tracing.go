// Package tracing wires OpenTelemetry spans around a fetch run: the
// scheduler's Run call, each bundle's load, locator polls, and pool Acquire
// operations.
package tracing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// Config controls whether and where spans are exported.
type Config struct {
	Enabled     bool
	Exporter    string // "otlp-http" or "noop"
	Endpoint    string // e.g. "localhost:4318"
	ServiceName string
	SampleRate  float64 // 0.0 to 1.0
}

type provider struct {
	tp      *sdktrace.TracerProvider
	tracer  trace.Tracer
	enabled bool
}

var global = &provider{enabled: false, tracer: trace.NewNoopTracerProvider().Tracer("")}

// Init installs the global tracer provider. Calling it with cfg.Enabled
// false installs a no-op tracer, so instrumented code never needs to check
// Enabled() before starting a span.
func Init(ctx context.Context, cfg Config) error {
	if !cfg.Enabled {
		global = &provider{enabled: false, tracer: trace.NewNoopTracerProvider().Tracer("")}
		return nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion("1.0.0"),
		),
	)
	if err != nil {
		return fmt.Errorf("tracing: create resource: %w", err)
	}

	var exporter sdktrace.SpanExporter
	switch cfg.Exporter {
	case "otlp-http", "otlp", "":
		exp, err := otlptracehttp.New(ctx,
			otlptracehttp.WithEndpoint(cfg.Endpoint),
			otlptracehttp.WithInsecure(),
		)
		if err != nil {
			return fmt.Errorf("tracing: create OTLP exporter: %w", err)
		}
		exporter = exp
	case "noop":
		exporter = &noopExporter{}
	default:
		return fmt.Errorf("tracing: unknown exporter %q", cfg.Exporter)
	}

	sampler := sdktrace.AlwaysSample()
	if cfg.SampleRate < 1.0 && cfg.SampleRate >= 0 {
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	global = &provider{tp: tp, tracer: tp.Tracer(cfg.ServiceName), enabled: true}
	return nil
}

// Shutdown flushes and stops the tracer provider. A no-op if Init was never
// called with Enabled true.
func Shutdown(ctx context.Context) error {
	if global.tp == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return global.tp.Shutdown(ctx)
}

func tracer() trace.Tracer { return global.tracer }

// Enabled reports whether a real exporter is installed.
func Enabled() bool { return global.enabled }

// Attribute keys shared across fetch-engine spans.
var (
	AttrRunID      = attribute.Key("fetchengine.run_id")
	AttrRecipeID   = attribute.Key("fetchengine.recipe_id")
	AttrLocatorID  = attribute.Key("fetchengine.locator_id")
	AttrBundleID   = attribute.Key("fetchengine.bundle_id")
	AttrResources  = attribute.Key("fetchengine.resources_count")
	AttrPoolName   = attribute.Key("fetchengine.pool")
)

// StartRun opens the top-level span for one scheduler.Run invocation.
func StartRun(ctx context.Context, runID, recipeID string) (context.Context, trace.Span) {
	return tracer().Start(ctx, "fetchengine.run",
		trace.WithAttributes(AttrRunID.String(runID), AttrRecipeID.String(recipeID)),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartBundle opens a span covering one bundle's load-and-store lifecycle.
func StartBundle(ctx context.Context, runID, bundleID string) (context.Context, trace.Span) {
	return tracer().Start(ctx, "fetchengine.bundle",
		trace.WithAttributes(AttrRunID.String(runID), AttrBundleID.String(bundleID)),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartPoolAcquire opens a span around a connection pool's Acquire call.
func StartPoolAcquire(ctx context.Context, poolName string) (context.Context, trace.Span) {
	return tracer().Start(ctx, "fetchengine.pool.acquire",
		trace.WithAttributes(AttrPoolName.String(poolName)),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// StartLocatorPoll opens a span around one locator's GetNextBundleRefs call.
func StartLocatorPoll(ctx context.Context, runID, locatorID string) (context.Context, trace.Span) {
	return tracer().Start(ctx, "fetchengine.locator.poll",
		trace.WithAttributes(AttrRunID.String(runID), AttrLocatorID.String(locatorID)),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// SetError records err on span and marks it failed.
func SetError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetOK marks span successful.
func SetOK(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// GetTraceID returns the active span's trace ID, or "" if ctx carries none
// (including when tracing is disabled, since the no-op tracer never attaches
// a recording span).
func GetTraceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().HasTraceID() {
		return ""
	}
	return span.SpanContext().TraceID().String()
}

// GetSpanID returns the active span's span ID, or "" if ctx carries none.
func GetSpanID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().HasSpanID() {
		return ""
	}
	return span.SpanContext().SpanID().String()
}

type noopExporter struct{}

func (noopExporter) ExportSpans(context.Context, []sdktrace.ReadOnlySpan) error { return nil }
func (noopExporter) Shutdown(context.Context) error                            { return nil }
