// Package span defines the traceable unit produced for each function
// invocation and its OpenTelemetry-backed implementation.
//
// Two implementations satisfy Span: *Entry, which participates in the trace,
// and Dummy, whose operations do nothing. Callers pick one when the
// invocation begins and never branch on the variant afterwards.
package span

import (
	"context"
	"strconv"

	"github.com/andrewh/lambdatrace/pkg/carrier"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.25.0"
)

// Span is a single traced unit of work.
type Span interface {
	// Start marks the beginning of the unit of work. Only the first call counts.
	Start()
	// Stop ends the span. Only the first call counts; tags added afterwards
	// are dropped.
	Stop()
	// Tag attaches a typed annotation.
	Tag(tag Tag)
	SetLayer(layer Layer)
	SetComponent(component Component)
	SetPeer(peer string)
	// MarkErrored flags the span as failed. The flag is never cleared.
	MarkErrored()
	Errored() bool
	// RecordError attaches err as an exception event without marking the span
	// as errored.
	RecordError(err error)
	// Context returns a context carrying the span once started, for use by
	// the traced handler.
	Context() context.Context
}

// Registry hands out entry spans linked to an optional propagated parent.
type Registry interface {
	NewEntrySpan(ctx context.Context, operation string, parent *carrier.Context) Span
}

// Layer classifies the protocol layer a span operates at.
type Layer string

// LayerHTTP marks spans serving HTTP requests.
const LayerHTTP Layer = "HTTP"

// Component identifies the integration that produced a span.
type Component string

// ComponentGatewayHTTP identifies the HTTP gateway function trigger.
const ComponentGatewayHTTP Component = "AWSLambdaGatewayAPIHTTP"

// Attribute keys under which an entry span records its layer and component.
const (
	LayerKey     = attribute.Key("span.layer")
	ComponentKey = attribute.Key("span.component")
)

// Tag is a typed key/value annotation.
type Tag struct {
	Key   attribute.Key
	Value attribute.Value
}

// KeyValue converts the tag to an OTel attribute.
func (t Tag) KeyValue() attribute.KeyValue {
	return attribute.KeyValue{Key: t.Key, Value: t.Value}
}

// String renders the tag as key=value.
func (t Tag) String() string {
	return string(t.Key) + "=" + t.Value.Emit()
}

// HTTPMethod tags the request method.
func HTTPMethod(method string) Tag {
	return Tag{Key: semconv.HTTPRequestMethodKey, Value: attribute.StringValue(method)}
}

// HTTPURL tags the full request URL.
func HTTPURL(url string) Tag {
	return Tag{Key: semconv.URLFullKey, Value: attribute.StringValue(url)}
}

// HTTPStatusCode tags the response status code.
func HTTPStatusCode(code int) Tag {
	return Tag{Key: semconv.HTTPResponseStatusCodeKey, Value: attribute.IntValue(code)}
}

// InvocationID tags the platform request id of the invocation.
func InvocationID(id string) Tag {
	return Tag{Key: semconv.FaaSInvocationIDKey, Value: attribute.StringValue(id)}
}

// statusDescription is the OTel status description for an errored span.
func statusDescription(code int) string {
	if code == 0 {
		return "invocation failed"
	}
	return "HTTP " + strconv.Itoa(code)
}
