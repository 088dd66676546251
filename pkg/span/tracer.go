package span

import (
	"context"
	"time"

	"github.com/andrewh/lambdatrace/pkg/carrier"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName is the OTel instrumentation scope of entry spans.
const InstrumentationName = "github.com/andrewh/lambdatrace"

// Tracer is the active-span registry. Each call to NewEntrySpan returns a
// fresh span; nothing is cached between invocations.
type Tracer struct {
	tracer    trace.Tracer
	observers []Observer
	clock     func() time.Time
}

// NewTracer creates a Tracer backed by tp. Observers receive a summary of
// each entry span when it stops.
func NewTracer(tp trace.TracerProvider, observers ...Observer) *Tracer {
	return &Tracer{
		tracer:    tp.Tracer(InstrumentationName),
		observers: observers,
		clock:     time.Now,
	}
}

// WithClock returns a copy of the tracer that reads time from clock.
func (t *Tracer) WithClock(clock func() time.Time) *Tracer {
	c := *t
	c.clock = clock
	return &c
}

// NewEntrySpan returns an unstarted entry span for operation. When parent is
// non-nil the span becomes a child of the remote parent.
func (t *Tracer) NewEntrySpan(ctx context.Context, operation string, parent *carrier.Context) Span {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Entry{
		tracer:    t,
		parent:    parent.Into(ctx),
		operation: operation,
	}
}

func (t *Tracer) now() time.Time {
	if t.clock == nil {
		return time.Now()
	}
	return t.clock()
}

func (t *Tracer) observe(info Info) {
	for _, obs := range t.observers {
		obs.Observe(info)
	}
}
