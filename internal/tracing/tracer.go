// Package tracing defines the gateway's span interface and its no-op and
// OpenTelemetry implementations.
package tracing

import "context"

// Tracer starts a span named name with the given attributes and returns a
// derived context plus a function that ends the span, recording err (if
// non-nil) as the span's terminal status.
type Tracer interface {
	StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, func(error))
}

type noopTracer struct{}

func (noopTracer) StartSpan(ctx context.Context, _ string, _ map[string]string) (context.Context, func(error)) {
	return ctx, func(error) {}
}

// Noop is the default Tracer used when no OpenTelemetry provider is configured.
var Noop Tracer = noopTracer{}
