package trigger

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/andrewh/lambdatrace/pkg/event"
	"go.uber.org/zap"
)

// Handler is a function invoked with the raw trigger payload.
type Handler func(ctx context.Context, payload json.RawMessage) (any, error)

type invocationKey struct{}

// WithInvocation returns a context carrying inv for Wrap to pick up.
func WithInvocation(ctx context.Context, inv Invocation) context.Context {
	return context.WithValue(ctx, invocationKey{}, inv)
}

// InvocationFromContext returns the Invocation stored by WithInvocation. When
// none is present the function name is read from AWS_LAMBDA_FUNCTION_NAME.
func InvocationFromContext(ctx context.Context) Invocation {
	if ctx != nil {
		if inv, ok := ctx.Value(invocationKey{}).(Invocation); ok {
			return inv
		}
	}
	return Invocation{FunctionName: os.Getenv("AWS_LAMBDA_FUNCTION_NAME")}
}

// Wrap instruments h. The span begins before h runs and is finished once h
// returns or panics; a panic is reported as an error and re-raised.
func (g *Gateway) Wrap(h Handler) Handler {
	return func(ctx context.Context, payload json.RawMessage) (result any, err error) {
		ev, perr := event.Parse(payload)
		if perr != nil {
			g.logger.Debug("tracing undecodable trigger event", zap.Error(perr))
			ev = &event.Event{}
		}

		inv := InvocationFromContext(ctx)
		if inv.RequestID == "" {
			inv.RequestID = ev.RequestID()
		}

		s := g.Begin(ctx, ev, inv)
		defer func() {
			if r := recover(); r != nil {
				g.Finish(s, fmt.Errorf("handler panic: %v", r), nil)
				panic(r)
			}
			g.Finish(s, err, result)
		}()

		return h(s.Context(), payload)
	}
}
