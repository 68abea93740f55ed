// Package tracing emits OpenTelemetry spans for queries, repository writes
// and HTTP requests.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

// ProviderConfig describes the bucketstore process to the trace backend.
// Endpoint and SampleRate are validated by the config loader.
type ProviderConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	// Endpoint is the OTLP/gRPC collector address, e.g. "otel-collector:4317".
	Endpoint   string
	SampleRate float64
	// Exporter replaces the OTLP exporter when set.
	Exporter sdktrace.SpanExporter
}

// Provider owns the process-wide tracer provider installed by Install.
type Provider struct {
	sdk *sdktrace.TracerProvider
}

// Install builds a provider exporting query and HTTP spans, and makes it the
// global otel provider so StartQuerySpan and the tracing middleware use it.
// Root spans are sampled at SampleRate; child spans follow their parent.
func Install(ctx context.Context, cfg ProviderConfig) (*Provider, error) {
	exporter := cfg.Exporter
	if exporter == nil {
		var err error
		exporter, err = otlptrace.New(ctx, otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
			otlptracegrpc.WithInsecure(),
		))
		if err != nil {
			return nil, fmt.Errorf("otlp exporter for %s: %w", cfg.Endpoint, err)
		}
	}

	res := resource.NewWithAttributes(semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.DeploymentEnvironment(cfg.Environment),
	)

	sdk := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))),
	)
	otel.SetTracerProvider(sdk)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return &Provider{sdk: sdk}, nil
}

// Shutdown flushes buffered spans within ctx and stops exporting.
func (p *Provider) Shutdown(ctx context.Context) error {
	if err := p.sdk.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown tracer provider: %w", err)
	}
	return nil
}
