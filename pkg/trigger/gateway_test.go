// Tests for entry span synthesis and completion classification
// Uses the OTel SDK in-memory exporter to verify the exported span
package trigger

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/andrewh/lambdatrace/pkg/carrier"
	"github.com/andrewh/lambdatrace/pkg/event"
	"github.com/andrewh/lambdatrace/pkg/span"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.25.0"
)

// countingRegistry records how often a span was requested.
type countingRegistry struct {
	inner span.Registry
	calls atomic.Int64
}

func (r *countingRegistry) NewEntrySpan(ctx context.Context, operation string, parent *carrier.Context) span.Span {
	r.calls.Add(1)
	return r.inner.NewEntrySpan(ctx, operation, parent)
}

type panicRegistry struct{}

func (panicRegistry) NewEntrySpan(context.Context, string, *carrier.Context) span.Span {
	panic("registry unavailable")
}

func newTestGateway(t *testing.T, opts ...Option) (*Gateway, *countingRegistry, *tracetest.InMemoryExporter) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	reg := &countingRegistry{inner: span.NewTracer(tp)}
	return New(reg, opts...), reg, exporter
}

func mustParse(t *testing.T, payload string) *event.Event {
	t.Helper()
	ev, err := event.Parse([]byte(payload))
	require.NoError(t, err)
	return ev
}

func attrs(stub tracetest.SpanStub) map[attribute.Key]attribute.Value {
	m := make(map[attribute.Key]attribute.Value, len(stub.Attributes))
	for _, kv := range stub.Attributes {
		m[kv.Key] = kv.Value
	}
	return m
}

func TestBeginScenario(t *testing.T) {
	t.Parallel()

	g, reg, exporter := newTestGateway(t)
	ev := mustParse(t, `{
		"headers": {"host": "api.example.com"},
		"requestContext": {"http": {"method": "GET", "path": "/orders", "protocol": "HTTP/1.1"}}
	}`)

	s := g.Begin(context.Background(), ev, Invocation{FunctionName: "orders"})
	require.IsType(t, &span.Entry{}, s)
	assert.Equal(t, int64(1), reg.calls.Load())

	entry := s.(*span.Entry)
	assert.Equal(t, "/orders", entry.Operation())
	assert.Equal(t, event.UnknownPeer, entry.Peer())
	tags := entry.Tags()
	require.Len(t, tags, 2)
	assert.Equal(t, span.HTTPMethod("GET"), tags[0])
	assert.Equal(t, span.HTTPURL("http://api.example.com/orders"), tags[1])

	g.Finish(s, nil, map[string]any{"statusCode": 200})

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	got := attrs(spans[0])
	assert.Equal(t, "/orders", spans[0].Name)
	assert.Equal(t, "GET", got[semconv.HTTPRequestMethodKey].AsString())
	assert.Equal(t, "http://api.example.com/orders", got[semconv.URLFullKey].AsString())
	assert.Equal(t, int64(200), got[semconv.HTTPResponseStatusCodeKey].AsInt64())
	assert.Equal(t, "HTTP", got[span.LayerKey].AsString())
	assert.Equal(t, string(span.ComponentGatewayHTTP), got[span.ComponentKey].AsString())
	assert.Equal(t, codes.Unset, spans[0].Status.Code)
}

func TestBeginEmptyEvent(t *testing.T) {
	t.Parallel()

	g, reg, exporter := newTestGateway(t)

	for _, ev := range []*event.Event{nil, {}} {
		s := g.Begin(context.Background(), ev, Invocation{})
		require.NotNil(t, s)
		entry, ok := s.(*span.Entry)
		require.True(t, ok)
		assert.Equal(t, "/", entry.Operation())
		assert.Equal(t, "Unknown", entry.Peer())
		assert.Empty(t, entry.Tags())
		g.Finish(s, nil, nil)
	}

	assert.Equal(t, int64(2), reg.calls.Load())
	assert.Len(t, exporter.GetSpans(), 2)
}

func TestBeginFunctionNameOperation(t *testing.T) {
	t.Parallel()

	g, _, _ := newTestGateway(t)

	s := g.Begin(context.Background(), &event.Event{}, Invocation{FunctionName: "orders-fn"})
	assert.Equal(t, "/orders-fn", s.(*span.Entry).Operation())
	g.Finish(s, nil, nil)
}

func TestBeginExemptMethod(t *testing.T) {
	t.Parallel()

	g, reg, exporter := newTestGateway(t, WithExemption(NewMethodFilter([]string{"OPTIONS", "head"})))

	for _, method := range []string{"OPTIONS", "options", "HEAD"} {
		ev := &event.Event{
			Headers:        event.Headers{"traceparent": "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"},
			RequestContext: &event.RequestContext{HTTP: &event.HTTP{Method: method, Path: "/x"}},
		}
		s := g.Begin(context.Background(), ev, Invocation{})
		assert.IsType(t, &span.Dummy{}, s, method)
		g.Finish(s, errors.New("ignored"), 503)
		assert.False(t, s.Errored())
	}

	assert.Zero(t, reg.calls.Load(), "exempt requests never reach the registry")
	assert.Empty(t, exporter.GetSpans())
}

func TestBeginExemptionNeedsMethod(t *testing.T) {
	t.Parallel()

	var asked atomic.Int64
	g, reg, _ := newTestGateway(t, WithExemption(ExemptionFunc(func(string) bool {
		asked.Add(1)
		return true
	})))

	s := g.Begin(context.Background(), &event.Event{}, Invocation{})
	assert.IsType(t, &span.Entry{}, s)
	assert.Zero(t, asked.Load())
	assert.Equal(t, int64(1), reg.calls.Load())
	g.Finish(s, nil, nil)
}

func TestBeginNonExemptMethod(t *testing.T) {
	t.Parallel()

	g, _, _ := newTestGateway(t, WithExemption(NewMethodFilter([]string{"OPTIONS"})))

	ev := &event.Event{RequestContext: &event.RequestContext{HTTP: &event.HTTP{Method: "POST"}}}
	s := g.Begin(context.Background(), ev, Invocation{})
	assert.IsType(t, &span.Entry{}, s)
	g.Finish(s, nil, nil)
}

func TestBeginPropagatedParent(t *testing.T) {
	t.Parallel()

	g, _, exporter := newTestGateway(t)
	ev := mustParse(t, `{
		"headers": {"TraceParent": "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"},
		"requestContext": {"http": {"method": "GET", "path": "/orders"}}
	}`)

	s := g.Begin(context.Background(), ev, Invocation{})
	g.Finish(s, nil, 200)

	got := exporter.GetSpans()[0]
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", got.SpanContext.TraceID().String())
	assert.Equal(t, "00f067aa0ba902b7", got.Parent.SpanID().String())
}

func TestBeginMalformedCarrier(t *testing.T) {
	t.Parallel()

	g, _, exporter := newTestGateway(t)
	ev := mustParse(t, `{"headers": {"traceparent": "garbage"}}`)

	s := g.Begin(context.Background(), ev, Invocation{})
	g.Finish(s, nil, nil)

	got := exporter.GetSpans()[0]
	assert.False(t, got.Parent.IsValid())
}

func TestBeginURLComposition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{
			name: "raw query and forwarded port",
			payload: `{"rawQueryString": "a=1&b=2",
				"headers": {"host": "api.example.com", "x-forwarded-port": "8443", "x-forwarded-proto": "https"},
				"requestContext": {"http": {"path": "/orders"}}}`,
			want: "https://api.example.com:8443/orders?a=1&b=2",
		},
		{
			name: "ordered query parameters",
			payload: `{"queryStringParameters": {"b": "2", "a": "1"},
				"headers": {"host": "api.example.com"},
				"requestContext": {"http": {"path": "/orders", "protocol": "HTTP/1.1"}}}`,
			want: "http://api.example.com/orders?b=2&a=1",
		},
		{
			name: "default port dropped and host lower-cased",
			payload: `{"headers": {"host": "API.Example.com", "x-forwarded-port": "443", "x-forwarded-proto": "https"},
				"rawPath": "/orders"}`,
			want: "https://api.example.com/orders",
		},
		{
			name: "domain name fallback",
			payload: `{"headers": {"x-forwarded-proto": "https"},
				"requestContext": {"domainName": "abc.execute-api.eu-west-1.amazonaws.com", "http": {"path": "/v1"}}}`,
			want: "https://abc.execute-api.eu-west-1.amazonaws.com/v1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			g, _, exporter := newTestGateway(t)
			s := g.Begin(context.Background(), mustParse(t, tt.payload), Invocation{})
			g.Finish(s, nil, nil)
			got := attrs(exporter.GetSpans()[0])
			assert.Equal(t, tt.want, got[semconv.URLFullKey].AsString())
		})
	}
}

func TestBeginURLOmitted(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload string
	}{
		{"no protocol", `{"headers": {"host": "api.example.com"}, "rawPath": "/x"}`},
		{"no host or port", `{"headers": {"x-forwarded-proto": "https"}, "rawPath": "/x"}`},
		{"invalid host", `{"headers": {"host": "bad host", "x-forwarded-proto": "https"}, "rawPath": "/x"}`},
		{"invalid escape", `{"headers": {"host": "h", "x-forwarded-proto": "https"}, "rawPath": "/%zz"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			g, _, exporter := newTestGateway(t)
			s := g.Begin(context.Background(), mustParse(t, tt.payload), Invocation{})
			g.Finish(s, nil, 204)

			spans := exporter.GetSpans()
			require.Len(t, spans, 1, "span still starts and stops")
			got := attrs(spans[0])
			_, ok := got[semconv.URLFullKey]
			assert.False(t, ok)
			assert.Equal(t, int64(204), got[semconv.HTTPResponseStatusCodeKey].AsInt64())
		})
	}
}

func TestBeginInvocationID(t *testing.T) {
	t.Parallel()

	g, _, exporter := newTestGateway(t)
	s := g.Begin(context.Background(), &event.Event{}, Invocation{RequestID: "req-42"})
	g.Finish(s, nil, nil)

	got := attrs(exporter.GetSpans()[0])
	assert.Equal(t, "req-42", got[semconv.FaaSInvocationIDKey].AsString())
}

func TestBeginRecoversRegistryPanic(t *testing.T) {
	t.Parallel()

	g := New(panicRegistry{})
	var s span.Span
	require.NotPanics(t, func() {
		s = g.Begin(context.Background(), &event.Event{}, Invocation{})
	})
	assert.IsType(t, &span.Dummy{}, s)
	require.NotPanics(t, func() { g.Finish(s, nil, 200) })
}

func TestFinishClassification(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	tests := []struct {
		name        string
		err         error
		result      any
		wantStatus  int64
		wantTag     bool
		wantErrored bool
	}{
		{"not found", nil, map[string]any{"statusCode": 404}, 404, true, true},
		{"error without status", boom, map[string]any{}, 500, true, true},
		{"nothing", nil, map[string]any{}, 0, false, false},
		{"ok", nil, map[string]any{"statusCode": 200}, 200, true, false},
		{"numeric result", nil, 503, 503, true, true},
		{"explicit status beats error", boom, map[string]any{"statusCode": 302}, 302, true, false},
		{"zero status with error", boom, map[string]any{"statusCode": 0}, 500, true, true},
		{"string status ignored", nil, map[string]any{"statusCode": "404"}, 0, false, false},
		{"boundary 400", nil, 400, 400, true, true},
		{"boundary 399", nil, 399, 399, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			g, _, exporter := newTestGateway(t)
			s := g.Begin(context.Background(), &event.Event{}, Invocation{})
			g.Finish(s, tt.err, tt.result)

			assert.Equal(t, tt.wantErrored, s.Errored())
			spans := exporter.GetSpans()
			require.Len(t, spans, 1)
			got := attrs(spans[0])
			status, ok := got[semconv.HTTPResponseStatusCodeKey]
			assert.Equal(t, tt.wantTag, ok)
			if tt.wantTag {
				assert.Equal(t, tt.wantStatus, status.AsInt64())
			}
			if tt.wantErrored {
				assert.Equal(t, codes.Error, spans[0].Status.Code)
			}
		})
	}
}

func TestFinishKeepsPriorErrored(t *testing.T) {
	t.Parallel()

	g, _, _ := newTestGateway(t)
	s := g.Begin(context.Background(), &event.Event{}, Invocation{})
	s.MarkErrored()
	g.Finish(s, nil, map[string]any{})
	assert.True(t, s.Errored())
}

func TestFinishRecordsErrorEvent(t *testing.T) {
	t.Parallel()

	g, _, exporter := newTestGateway(t)
	s := g.Begin(context.Background(), &event.Event{}, Invocation{})
	g.Finish(s, errors.New("boom"), nil)

	got := exporter.GetSpans()[0]
	require.Len(t, got.Events, 1)
	assert.Equal(t, "exception", got.Events[0].Name)
}

// tagPanicSpan panics when tagged but must still be stopped.
type tagPanicSpan struct {
	*span.Dummy
	stopped int
}

func (s *tagPanicSpan) Tag(span.Tag) { panic("tag failed") }
func (s *tagPanicSpan) Stop()        { s.stopped++ }

func TestFinishAlwaysStops(t *testing.T) {
	t.Parallel()

	g := New(panicRegistry{})
	s := &tagPanicSpan{Dummy: span.NewDummy(context.Background())}
	require.NotPanics(t, func() { g.Finish(s, nil, 200) })
	assert.Equal(t, 1, s.stopped)
}

func TestFinishNilSpan(t *testing.T) {
	t.Parallel()

	g := New(panicRegistry{})
	assert.NotPanics(t, func() { g.Finish(nil, errors.New("x"), nil) })
}
