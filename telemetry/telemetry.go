package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName names the tracer used across packages.
const InstrumentationName = "github.com/hupe1980/storymesh"

// ShutdownFunc flushes pending spans and stops the provider.
type ShutdownFunc func(context.Context) error

// Options configures Setup.
type Options struct {
	ServiceVersion string
	// SampleRatio is the fraction of root spans recorded. Values >= 1 sample
	// everything.
	SampleRatio float64
	// Exporter replaces the OTLP/HTTP exporter.
	Exporter sdktrace.SpanExporter
}

// Setup registers a global tracer provider that exports to endpoint over
// OTLP/HTTP. An empty endpoint without an Exporter returns a no-op shutdown.
func Setup(ctx context.Context, serviceName, endpoint string, optFns ...func(o *Options)) (ShutdownFunc, error) {
	noop := func(context.Context) error { return nil }

	opts := Options{
		SampleRatio: 1,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	exporter := opts.Exporter
	if exporter == nil {
		if endpoint == "" {
			return noop, nil
		}
		exp, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(endpoint))
		if err != nil {
			return noop, fmt.Errorf("telemetry: exporter: %w", err)
		}
		exporter = exp
	}

	attrs := []resource.Option{
		resource.WithAttributes(semconv.ServiceName(serviceName)),
	}
	if opts.ServiceVersion != "" {
		attrs = append(attrs, resource.WithAttributes(semconv.ServiceVersion(opts.ServiceVersion)))
	}
	res, err := resource.New(ctx, attrs...)
	if err != nil {
		return noop, fmt.Errorf("telemetry: resource: %w", err)
	}

	sampler := sdktrace.AlwaysSample()
	if opts.SampleRatio < 1 {
		sampler = sdktrace.ParentBased(sdktrace.TraceIDRatioBased(opts.SampleRatio))
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

	return tp.Shutdown, nil
}

// Tracer returns the StoryMesh tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(InstrumentationName)
}
