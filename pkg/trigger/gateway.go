// Package trigger instruments functions invoked through an HTTP gateway.
//
// A Gateway turns each trigger event into exactly one span: Begin synthesizes
// it from the event before the handler runs, and Finish classifies the outcome
// and closes it afterwards. Tracing faults never reach the handler; the worst
// case is a span with fewer tags.
package trigger

import (
	"context"

	"github.com/andrewh/lambdatrace/pkg/carrier"
	"github.com/andrewh/lambdatrace/pkg/event"
	"github.com/andrewh/lambdatrace/pkg/span"
	"go.uber.org/zap"
)

// Invocation describes the function invocation being traced.
type Invocation struct {
	FunctionName string
	RequestID    string
}

// Exemption decides which request methods are not traced.
type Exemption interface {
	IsExempt(method string) bool
}

// ExemptionFunc adapts a function to the Exemption interface.
type ExemptionFunc func(method string) bool

// IsExempt calls f(method).
func (f ExemptionFunc) IsExempt(method string) bool { return f(method) }

// Gateway synthesizes and completes entry spans for gateway-triggered invocations.
type Gateway struct {
	registry span.Registry
	exempt   Exemption
	logger   *zap.Logger
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithExemption sets the method exemption predicate. Without one every
// request is traced.
func WithExemption(e Exemption) Option {
	return func(g *Gateway) { g.exempt = e }
}

// WithLogger sets the logger for tracing faults.
func WithLogger(l *zap.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}

// New creates a Gateway that obtains spans from registry.
func New(registry span.Registry, opts ...Option) *Gateway {
	g := &Gateway{
		registry: registry,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Begin synthesizes the span for an invocation and starts it. Requests whose
// method is exempt get an inert span and the registry is not consulted. Begin
// always returns a span, even if a collaborator panics.
func (g *Gateway) Begin(ctx context.Context, ev *event.Event, inv Invocation) (s span.Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	defer func() {
		if r := recover(); r != nil {
			g.logger.Warn("span synthesis failed, invocation not traced",
				zap.Any("panic", r),
				zap.String("function", inv.FunctionName),
			)
			s = span.NewDummy(ctx)
		}
	}()

	method, hasMethod := ev.Method()
	if hasMethod && g.exempt != nil && g.exempt.IsExempt(method) {
		return span.NewDummy(ctx)
	}

	operation := ev.Operation(inv.FunctionName)

	var parent *carrier.Context
	if ev.HasHeaders() {
		parent = carrier.Parse(ev.HeaderMap())
	}

	s = g.registry.NewEntrySpan(ctx, operation, parent)
	if s == nil {
		return span.NewDummy(ctx)
	}

	s.SetLayer(span.LayerHTTP)
	s.SetComponent(span.ComponentGatewayHTTP)
	s.SetPeer(ev.Peer())

	if hasMethod {
		s.Tag(span.HTTPMethod(method))
	}
	if inv.RequestID != "" {
		s.Tag(span.InvocationID(inv.RequestID))
	}

	proto, hasProto := ev.Protocol()
	if hostport := ev.HostPort(); hostport != "" && hasProto {
		u, err := composeURL(proto, hostport, operation, ev.Query())
		if err != nil {
			g.logger.Debug("omitting url tag", zap.Error(err))
		} else {
			s.Tag(span.HTTPURL(u))
		}
	}

	s.Start()
	return s
}

// Finish classifies the invocation outcome and stops the span. Stop runs
// regardless of what happens while tagging.
func (g *Gateway) Finish(s span.Span, err error, result any) {
	if s == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			g.logger.Warn("span completion failed", zap.Any("panic", r))
		}
	}()
	defer s.Stop()

	if err != nil {
		s.RecordError(err)
	}
	if code, ok := StatusCode(err, result); ok {
		if code >= 400 {
			s.MarkErrored()
		}
		s.Tag(span.HTTPStatusCode(code))
	}
}
