package span

import "context"

// Dummy is a Span whose operations do nothing. It stands in for requests that
// are exempt from tracing.
type Dummy struct {
	ctx context.Context
}

// NewDummy returns a Dummy span whose Context is ctx.
func NewDummy(ctx context.Context) *Dummy {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Dummy{ctx: ctx}
}

// Span methods on Dummy are no-ops.

func (*Dummy) Start()                 {}
func (*Dummy) Stop()                  {}
func (*Dummy) Tag(Tag)                {}
func (*Dummy) SetLayer(Layer)         {}
func (*Dummy) SetComponent(Component) {}
func (*Dummy) SetPeer(string)         {}
func (*Dummy) MarkErrored()           {}
func (*Dummy) Errored() bool          { return false }
func (*Dummy) RecordError(error)      {}

// Context returns the context the Dummy was created with.
func (d *Dummy) Context() context.Context {
	if d == nil || d.ctx == nil {
		return context.Background()
	}
	return d.ctx
}
