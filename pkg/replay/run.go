package replay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/andrewh/lambdatrace/pkg/carrier"
	"github.com/andrewh/lambdatrace/pkg/event"
	"github.com/andrewh/lambdatrace/pkg/span"
	"github.com/andrewh/lambdatrace/pkg/trigger"
	"github.com/google/uuid"
)

// Options adjust how a suite is replayed. Non-zero fields override the
// corresponding per-case values.
type Options struct {
	FunctionName string
	Traceparent  string
	Status       int
	Error        string
}

// Result summarises one replayed invocation.
type Result struct {
	Name      string
	RequestID string
	Traced    bool
	Operation string
	Method    string
	Status    int
	Errored   bool
	TraceID   string
	Duration  time.Duration
	Err       error

	// ParentSampled reports whether the event carried a propagated parent
	// that had sampled the trace.
	ParentSampled bool
}

// Recorder is a span.Observer that keeps the summaries of stopped spans
// until the runner collects them.
type Recorder struct {
	mu    sync.Mutex
	infos []span.Info
}

// Observe implements span.Observer.
func (r *Recorder) Observe(info span.Info) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.infos = append(r.infos, info)
}

func (r *Recorder) drain() []span.Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.infos
	r.infos = nil
	return out
}

// Runner replays suites through a Gateway, one invocation at a time.
type Runner struct {
	gateway  *trigger.Gateway
	recorder *Recorder
	opts     Options
	newID    func() string
}

// NewRunner creates a Runner. The recorder must be registered as an observer
// on the tracer behind g for results to carry span details.
func NewRunner(g *trigger.Gateway, recorder *Recorder, opts Options) *Runner {
	if recorder == nil {
		recorder = &Recorder{}
	}
	return &Runner{
		gateway:  g,
		recorder: recorder,
		opts:     opts,
		newID:    uuid.NewString,
	}
}

// Run replays every invocation of s in order. It stops early only when ctx
// is cancelled.
func (r *Runner) Run(ctx context.Context, s *Suite) ([]Result, error) {
	functionName := s.FunctionName
	if r.opts.FunctionName != "" {
		functionName = r.opts.FunctionName
	}

	results := make([]Result, 0, len(s.Invocations))
	for _, c := range s.Invocations {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		results = append(results, r.replay(ctx, functionName, c))
	}
	return results, nil
}

func (r *Runner) replay(ctx context.Context, functionName string, c *Case) Result {
	res := Result{Name: c.Name, RequestID: r.newID()}

	payload := c.Payload
	if r.opts.Traceparent != "" {
		var err error
		payload, err = injectTraceparent(payload, r.opts.Traceparent)
		if err != nil {
			res.Err = err
			return res
		}
	}

	status, errText := c.Status, c.Error
	if r.opts.Status != 0 {
		status = r.opts.Status
	}
	if r.opts.Error != "" {
		errText = r.opts.Error
	}

	if ev, err := event.Parse(payload); err == nil {
		res.ParentSampled = carrier.Parse(ev.HeaderMap()).Sampled()
	}

	r.recorder.drain()
	handler := r.gateway.Wrap(simulate(status, errText))
	ctx = trigger.WithInvocation(ctx, trigger.Invocation{
		FunctionName: functionName,
		RequestID:    res.RequestID,
	})
	_, res.Err = handler(ctx, payload)

	infos := r.recorder.drain()
	if len(infos) == 0 {
		return res
	}
	info := infos[len(infos)-1]
	res.Traced = true
	res.Operation = info.Operation
	res.Method = info.Method
	res.Status = info.StatusCode
	res.Errored = info.Errored
	res.Duration = info.Duration
	if info.SpanContext.HasTraceID() {
		res.TraceID = info.SpanContext.TraceID().String()
	}
	return res
}

// simulate returns a handler producing a gateway-style response.
func simulate(status int, errText string) trigger.Handler {
	return func(context.Context, json.RawMessage) (any, error) {
		if errText != "" {
			return nil, errors.New(errText)
		}
		if status == 0 {
			return map[string]any{}, nil
		}
		return map[string]any{"statusCode": status}, nil
	}
}

// injectTraceparent adds the trace context described by traceparent to the
// event's headers, replacing any propagated context already present.
func injectTraceparent(payload json.RawMessage, traceparent string) (json.RawMessage, error) {
	parent := carrier.Parse(map[string]string{"traceparent": traceparent})
	if parent == nil {
		return nil, fmt.Errorf("invalid traceparent %q", traceparent)
	}

	ev := map[string]any{}
	if len(bytes.TrimSpace(payload)) > 0 && !bytes.Equal(bytes.TrimSpace(payload), []byte("null")) {
		dec := json.NewDecoder(bytes.NewReader(payload))
		dec.UseNumber()
		if err := dec.Decode(&ev); err != nil {
			return nil, fmt.Errorf("injecting traceparent: event is not a JSON object: %w", err)
		}
	}

	headers, _ := ev["headers"].(map[string]any)
	if headers == nil {
		headers = map[string]any{}
	}
	for k := range headers {
		if strings.EqualFold(k, "traceparent") || strings.EqualFold(k, "tracestate") {
			delete(headers, k)
		}
	}

	injected := map[string]string{}
	carrier.Inject(parent.Into(context.Background()), injected)
	for k, v := range injected {
		headers[k] = v
	}
	ev["headers"] = headers

	out, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("injecting traceparent: %w", err)
	}
	return out, nil
}
