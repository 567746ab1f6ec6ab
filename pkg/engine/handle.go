package engine

import (
	"context"

	"github.com/google/uuid"
	"github.com/polisai/polis-triage/pkg/engine/runtime"
)

// RunOption customises a single run.
type RunOption func(*runOptions)

type runOptions struct {
	sink           runtime.Sink
	runID          string
	maxConcurrency int
}

// WithSink delivers the run's progress events to sink.
func WithSink(sink runtime.Sink) RunOption {
	return func(o *runOptions) { o.sink = sink }
}

// WithRunID overrides the generated run id.
func WithRunID(id string) RunOption {
	return func(o *runOptions) { o.runID = id }
}

// WithMaxConcurrency bounds how many members of a fan-out batch run at once.
// Zero or less means unbounded.
func WithMaxConcurrency(n int) RunOption {
	return func(o *runOptions) { o.maxConcurrency = n }
}

func collectOptions(opts []RunOption) runOptions {
	var o runOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// Handle tracks a run started with Start.
type Handle struct {
	runID  string
	done   chan struct{}
	output string
	err    error
}

// Start launches a run in the background and returns immediately.
func (w *Workflow) Start(ctx context.Context, input any, opts ...RunOption) *Handle {
	o := collectOptions(opts)
	if o.runID == "" {
		o.runID = uuid.NewString()
	}
	h := &Handle{runID: o.runID, done: make(chan struct{})}
	go func() {
		defer close(h.done)
		h.output, h.err = w.execute(ctx, input, o)
	}()
	return h
}

// RunID identifies the run.
func (h *Handle) RunID() string { return h.runID }

// Done is closed once the run has finished.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the run finishes and returns its output or failure.
func (h *Handle) Wait() (string, error) {
	<-h.done
	return h.output, h.err
}
