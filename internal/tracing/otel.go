package tracing

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// otelTracer adapts an OpenTelemetry tracer to the gateway's Tracer interface.
type otelTracer struct {
	tracer oteltrace.Tracer
}

// NewOTelTracer builds a Tracer from provider (or the global provider if nil)
// under the given instrumentation name.
func NewOTelTracer(provider oteltrace.TracerProvider, instrumentation string) Tracer {
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	if provider == nil {
		return Noop
	}
	if strings.TrimSpace(instrumentation) == "" {
		instrumentation = "mcp-gateway"
	}
	return &otelTracer{tracer: provider.Tracer(instrumentation)}
}

// NewGlobalTracer returns a Tracer bound to the process-global provider.
func NewGlobalTracer(instrumentation string) Tracer {
	return NewOTelTracer(nil, instrumentation)
}

func (t *otelTracer) StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, func(error)) {
	if t == nil || t.tracer == nil {
		return ctx, func(error) {}
	}
	ctx, span := t.tracer.Start(ctx, name, oteltrace.WithAttributes(convertAttrs(attrs)...))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}

func convertAttrs(attrs map[string]string) []attribute.KeyValue {
	if len(attrs) == 0 {
		return nil
	}
	out := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		key := strings.TrimSpace(k)
		if key == "" {
			continue
		}
		out = append(out, attribute.String(key, v))
	}
	return out
}
