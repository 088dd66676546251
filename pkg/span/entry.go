package span

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.25.0"
	"go.opentelemetry.io/otel/trace"
)

// Entry is the span for an inbound request. Tags attached before Start are
// buffered and become attributes of the OTel span when it starts.
// Safe for concurrent use.
type Entry struct {
	tracer    *Tracer
	parent    context.Context
	operation string

	mu        sync.Mutex
	ctx       context.Context
	span      trace.Span
	layer     Layer
	component Component
	peer      string
	tags      []Tag
	errored   bool
	started   bool
	stopped   bool
	startTime time.Time
}

// Start opens the underlying OTel span with all buffered tags.
func (e *Entry) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.startLocked()
}

func (e *Entry) startLocked() {
	if e.started {
		return
	}
	e.started = true
	e.startTime = e.tracer.now()

	attrs := make([]attribute.KeyValue, 0, len(e.tags)+4)
	attrs = append(attrs, semconv.FaaSTriggerHTTP)
	if e.layer != "" {
		attrs = append(attrs, LayerKey.String(string(e.layer)))
	}
	if e.component != "" {
		attrs = append(attrs, ComponentKey.String(string(e.component)))
	}
	if e.peer != "" {
		attrs = append(attrs, semconv.NetworkPeerAddress(e.peer))
	}
	for _, t := range e.tags {
		attrs = append(attrs, t.KeyValue())
	}

	e.ctx, e.span = e.tracer.tracer.Start(e.parent, e.operation,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithTimestamp(e.startTime),
		trace.WithAttributes(attrs...),
	)
}

// Stop ends the OTel span and notifies the tracer's observers. A span that
// was never started is started first so it is still reported.
func (e *Entry) Stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.startLocked()
	e.stopped = true

	end := e.tracer.now()
	status := e.statusCodeLocked()
	if e.errored {
		e.span.SetStatus(codes.Error, statusDescription(status))
	}
	e.span.End(trace.WithTimestamp(end))

	info := Info{
		SpanContext: e.span.SpanContext(),
		Operation:   e.operation,
		Component:   e.component,
		Layer:       e.layer,
		Peer:        e.peer,
		Method:      e.methodLocked(),
		StatusCode:  status,
		Errored:     e.errored,
		Timestamp:   e.startTime,
		Duration:    end.Sub(e.startTime),
		Tags:        append([]Tag(nil), e.tags...),
	}
	e.mu.Unlock()

	e.tracer.observe(info)
}

// Tag appends tag to the span. Tags with different keys coexist; the most
// recent value for a key wins in the exported attributes.
func (e *Entry) Tag(tag Tag) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return
	}
	e.tags = append(e.tags, tag)
	if e.started {
		e.span.SetAttributes(tag.KeyValue())
	}
}

// SetLayer records the layer, buffering it until Start.
func (e *Entry) SetLayer(layer Layer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return
	}
	e.layer = layer
	if e.started {
		e.span.SetAttributes(LayerKey.String(string(layer)))
	}
}

// SetComponent records the component, buffering it until Start.
func (e *Entry) SetComponent(component Component) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return
	}
	e.component = component
	if e.started {
		e.span.SetAttributes(ComponentKey.String(string(component)))
	}
}

// SetPeer records the remote peer address.
func (e *Entry) SetPeer(peer string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return
	}
	e.peer = peer
	if e.started {
		e.span.SetAttributes(semconv.NetworkPeerAddress(peer))
	}
}

// MarkErrored flags the span as failed. The flag is never cleared.
func (e *Entry) MarkErrored() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errored = true
}

// Errored reports whether MarkErrored has been called.
func (e *Entry) Errored() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.errored
}

// RecordError adds err as an exception event. Ignored outside Start/Stop.
func (e *Entry) RecordError(err error) {
	if err == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started || e.stopped {
		return
	}
	e.span.RecordError(err)
}

// Context returns the context carrying the OTel span, or the parent context
// before Start.
func (e *Entry) Context() context.Context {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ctx != nil {
		return e.ctx
	}
	return e.parent
}

// Operation returns the span's operation name.
func (e *Entry) Operation() string {
	return e.operation
}

// Tags returns a copy of the tags attached so far, in order.
func (e *Entry) Tags() []Tag {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Tag(nil), e.tags...)
}

// Peer returns the recorded network peer.
func (e *Entry) Peer() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.peer
}

func (e *Entry) methodLocked() string {
	for i := len(e.tags) - 1; i >= 0; i-- {
		if e.tags[i].Key == semconv.HTTPRequestMethodKey {
			return e.tags[i].Value.AsString()
		}
	}
	return ""
}

func (e *Entry) statusCodeLocked() int {
	for i := len(e.tags) - 1; i >= 0; i-- {
		if e.tags[i].Key == semconv.HTTPResponseStatusCodeKey {
			return int(e.tags[i].Value.AsInt64())
		}
	}
	return 0
}
