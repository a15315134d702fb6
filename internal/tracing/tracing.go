// Package tracing wires the OpenTelemetry trace provider. Export is driven
// by the standard OTEL environment variables; without an endpoint the global
// provider stays a no-op and job spans cost nothing.
package tracing

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
)

const (
	envEndpoint = "OTEL_EXPORTER_OTLP_ENDPOINT"
	envProtocol = "OTEL_EXPORTER_OTLP_PROTOCOL"
	envInsecure = "OTEL_EXPORTER_OTLP_INSECURE"
)

// Provider owns the trace provider lifecycle. A nil provider (tracing
// disabled) is safe to use.
type Provider struct {
	tp *sdktrace.TracerProvider
}

// Setup installs the global tracer provider when an OTLP endpoint is
// configured. serviceName and version identify this process in traces.
func Setup(ctx context.Context, serviceName, version string) (*Provider, error) {
	endpoint := os.Getenv(envEndpoint)
	if endpoint == "" {
		return &Provider{}, nil
	}

	exporter, err := newExporter(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("tracing exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("tracing resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	slog.Info("tracing.enabled", "endpoint", endpoint, "protocol", protocol())
	return &Provider{tp: tp}, nil
}

func protocol() string {
	p := strings.ToLower(os.Getenv(envProtocol))
	if strings.HasPrefix(p, "http") {
		return "http"
	}
	return "grpc"
}

func newExporter(ctx context.Context, endpoint string) (sdktrace.SpanExporter, error) {
	endpoint = strings.TrimPrefix(strings.TrimPrefix(endpoint, "https://"), "http://")
	insecure := os.Getenv(envInsecure) == "true"

	if protocol() == "http" {
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
		if insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, opts...)
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
	if insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	return otlptracegrpc.New(ctx, opts...)
}

// Shutdown flushes pending spans. No-op when tracing is disabled.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}
