// Tests for handler instrumentation
package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.25.0"
	"go.opentelemetry.io/otel/trace"
)

const ordersEvent = `{
	"headers": {"host": "api.example.com", "x-forwarded-proto": "https"},
	"requestContext": {"requestId": "gw-1", "http": {"method": "POST", "path": "/orders"}}
}`

func TestWrapSuccess(t *testing.T) {
	t.Parallel()

	g, _, exporter := newTestGateway(t)
	var handlerSpan trace.SpanContext
	h := g.Wrap(func(ctx context.Context, payload json.RawMessage) (any, error) {
		handlerSpan = trace.SpanContextFromContext(ctx)
		return map[string]any{"statusCode": 201}, nil
	})

	ctx := WithInvocation(context.Background(), Invocation{FunctionName: "orders", RequestID: "aws-1"})
	result, err := h(ctx, json.RawMessage(ordersEvent))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"statusCode": 201}, result)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, spans[0].SpanContext.SpanID(), handlerSpan.SpanID(), "handler runs inside the span")
	got := attrs(spans[0])
	assert.Equal(t, int64(201), got[semconv.HTTPResponseStatusCodeKey].AsInt64())
	assert.Equal(t, "aws-1", got[semconv.FaaSInvocationIDKey].AsString())
	assert.Equal(t, "https://api.example.com/orders", got[semconv.URLFullKey].AsString())
}

func TestWrapRequestIDFromEvent(t *testing.T) {
	t.Parallel()

	g, _, exporter := newTestGateway(t)
	h := g.Wrap(func(context.Context, json.RawMessage) (any, error) { return nil, nil })

	_, err := h(WithInvocation(context.Background(), Invocation{FunctionName: "orders"}), json.RawMessage(ordersEvent))
	require.NoError(t, err)
	got := attrs(exporter.GetSpans()[0])
	assert.Equal(t, "gw-1", got[semconv.FaaSInvocationIDKey].AsString())
}

func TestWrapHandlerError(t *testing.T) {
	t.Parallel()

	g, _, exporter := newTestGateway(t)
	boom := errors.New("boom")
	h := g.Wrap(func(context.Context, json.RawMessage) (any, error) { return nil, boom })

	_, err := h(context.Background(), json.RawMessage(ordersEvent))
	require.ErrorIs(t, err, boom)

	got := exporter.GetSpans()[0]
	assert.Equal(t, codes.Error, got.Status.Code)
	assert.Equal(t, int64(500), attrs(got)[semconv.HTTPResponseStatusCodeKey].AsInt64())
}

func TestWrapHandlerPanic(t *testing.T) {
	t.Parallel()

	g, _, exporter := newTestGateway(t)
	h := g.Wrap(func(context.Context, json.RawMessage) (any, error) { panic("handler exploded") })

	assert.PanicsWithValue(t, "handler exploded", func() {
		_, _ = h(context.Background(), json.RawMessage(ordersEvent))
	})

	spans := exporter.GetSpans()
	require.Len(t, spans, 1, "span is stopped before the panic propagates")
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	assert.Equal(t, int64(500), attrs(spans[0])[semconv.HTTPResponseStatusCodeKey].AsInt64())
	require.NotEmpty(t, spans[0].Events)
	assert.Equal(t, "exception", spans[0].Events[0].Name)
}

func TestWrapUndecodablePayload(t *testing.T) {
	t.Parallel()

	g, _, exporter := newTestGateway(t)
	called := false
	h := g.Wrap(func(context.Context, json.RawMessage) (any, error) {
		called = true
		return nil, nil
	})

	_, err := h(WithInvocation(context.Background(), Invocation{FunctionName: "orders"}), json.RawMessage(`[1,2`))
	require.NoError(t, err)
	assert.True(t, called)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "/orders", spans[0].Name)
}

func TestWrapExemptMethod(t *testing.T) {
	t.Parallel()

	g, reg, exporter := newTestGateway(t, WithExemption(NewMethodFilter([]string{"POST"})))
	h := g.Wrap(func(ctx context.Context, _ json.RawMessage) (any, error) {
		assert.False(t, trace.SpanContextFromContext(ctx).IsValid())
		return 200, nil
	})

	_, err := h(context.Background(), json.RawMessage(ordersEvent))
	require.NoError(t, err)
	assert.Zero(t, reg.calls.Load())
	assert.Empty(t, exporter.GetSpans())
}

func TestWrapMistypedMember(t *testing.T) {
	t.Parallel()

	const preflight = `{"requestContext":{"http":{"method":"OPTIONS","path":"/orders"},"requestId":123}}`

	t.Run("exempt method stays exempt", func(t *testing.T) {
		t.Parallel()
		g, reg, exporter := newTestGateway(t, WithExemption(NewMethodFilter([]string{"OPTIONS"})))
		h := g.Wrap(func(context.Context, json.RawMessage) (any, error) { return 204, nil })

		_, err := h(WithInvocation(context.Background(), Invocation{FunctionName: "orders"}), json.RawMessage(preflight))
		require.NoError(t, err)
		assert.Zero(t, reg.calls.Load())
		assert.Empty(t, exporter.GetSpans())
	})

	t.Run("remaining members are traced", func(t *testing.T) {
		t.Parallel()
		g, _, exporter := newTestGateway(t)
		h := g.Wrap(func(context.Context, json.RawMessage) (any, error) { return 204, nil })

		_, err := h(WithInvocation(context.Background(), Invocation{FunctionName: "fallback"}), json.RawMessage(preflight))
		require.NoError(t, err)
		spans := exporter.GetSpans()
		require.Len(t, spans, 1)
		assert.Equal(t, "/orders", spans[0].Name)
		assert.Equal(t, "OPTIONS", attrs(spans[0])[semconv.HTTPRequestMethodKey].AsString())
	})
}

// Not parallel: t.Setenv modifies the process environment.
func TestInvocationFromContextEnvironment(t *testing.T) {
	t.Setenv("AWS_LAMBDA_FUNCTION_NAME", "env-fn")

	assert.Equal(t, Invocation{FunctionName: "env-fn"}, InvocationFromContext(context.Background()))

	inv := Invocation{FunctionName: "explicit", RequestID: "r"}
	assert.Equal(t, inv, InvocationFromContext(WithInvocation(context.Background(), inv)))
}
