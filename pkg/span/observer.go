// Observer interface for deriving signals (metrics, logs) from entry spans.
// Observers receive span metadata after each span stops.
package span

import (
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Info holds entry span metadata for signal derivation.
type Info struct {
	SpanContext trace.SpanContext
	Operation   string
	Component   Component
	Layer       Layer
	Peer        string
	Method      string
	StatusCode  int // 0 when no status was recorded
	Errored     bool
	Timestamp   time.Time
	Duration    time.Duration
	Tags        []Tag
}

// Observer receives span metadata after each entry span stops.
type Observer interface {
	Observe(info Info)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Info)

// Observe calls f(info).
func (f ObserverFunc) Observe(info Info) { f(info) }
