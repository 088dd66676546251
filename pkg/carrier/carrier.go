// Package carrier reads and writes propagated trace context in request headers.
// The W3C traceparent/tracestate headers carry the parent span and the W3C
// baggage header carries baggage members.
package carrier

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

var propagator = propagation.NewCompositeTextMapPropagator(
	propagation.TraceContext{},
	propagation.Baggage{},
)

// Context is trace context propagated by an upstream caller.
type Context struct {
	SpanContext trace.SpanContext
	Baggage     baggage.Baggage
}

// Parse extracts propagated context from headers. Header names are matched
// case-insensitively. It returns nil when no valid parent is present;
// malformed headers are treated as absent.
func Parse(headers map[string]string) *Context {
	if len(headers) == 0 {
		return nil
	}
	mc := make(propagation.MapCarrier, len(headers))
	for k, v := range headers {
		mc[strings.ToLower(k)] = v
	}

	ctx := propagator.Extract(context.Background(), mc)
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return nil
	}
	return &Context{
		SpanContext: sc,
		Baggage:     baggage.FromContext(ctx),
	}
}

// Sampled reports whether the upstream caller sampled the trace.
func (c *Context) Sampled() bool {
	return c != nil && c.SpanContext.IsSampled()
}

// Into returns a copy of ctx carrying c as the remote parent. A nil c returns
// ctx unchanged.
func (c *Context) Into(ctx context.Context) context.Context {
	if c == nil {
		return ctx
	}
	ctx = trace.ContextWithRemoteSpanContext(ctx, c.SpanContext)
	if c.Baggage.Len() > 0 {
		ctx = baggage.ContextWithBaggage(ctx, c.Baggage)
	}
	return ctx
}

// Inject writes the trace context and baggage held by ctx into headers.
func Inject(ctx context.Context, headers map[string]string) {
	propagator.Inject(ctx, propagation.MapCarrier(headers))
}
