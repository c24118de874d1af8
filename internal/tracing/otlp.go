package tracing

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// OTLPConfig configures the gRPC OTLP span exporter.
type OTLPConfig struct {
	Endpoint           string
	Insecure           bool
	ServiceName        string
	ResourceAttributes map[string]string
}

// NewOTLPTracerProvider builds an OTLP gRPC tracer provider and a shutdown
// func that must be called during application shutdown to flush pending
// spans.
func NewOTLPTracerProvider(ctx context.Context, cfg OTLPConfig) (oteltrace.TracerProvider, func(context.Context) error, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, nil, fmt.Errorf("otlp endpoint required")
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptrace.New(ctx, otlptracegrpc.NewClient(opts...))
	if err != nil {
		return nil, nil, fmt.Errorf("create otlp exporter: %w", err)
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "mcp-gateway"
	}
	attrs := []attribute.KeyValue{semconv.ServiceName(serviceName)}
	for k, v := range cfg.ResourceAttributes {
		if key := strings.TrimSpace(k); key != "" {
			attrs = append(attrs, attribute.String(key, v))
		}
	}

	res, err := resource.New(ctx, resource.WithAttributes(attrs...))
	if err != nil {
		return nil, nil, fmt.Errorf("create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	return provider, provider.Shutdown, nil
}

// ConfigureGlobalTracer installs provider as the process-global OpenTelemetry
// tracer provider and returns a Tracer bound to it.
func ConfigureGlobalTracer(provider oteltrace.TracerProvider, instrumentation string) Tracer {
	if provider == nil {
		return Noop
	}
	otel.SetTracerProvider(provider)
	return NewOTelTracer(provider, instrumentation)
}
