package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/polisai/polis-triage/pkg/domain"
	"github.com/polisai/polis-triage/pkg/engine/runtime"
	"github.com/polisai/polis-triage/pkg/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const tracerName = "triage.workflow"

// delivery is one message bound for one executor.
type delivery struct {
	target string
	msg    any
}

// emitted holds what one activation sent, in send order.
type emitted struct {
	source string
	msgs   []any
}

type joinBuffer struct {
	received map[string]any
}

// run is the mutable state of one workflow execution.
type run struct {
	wf          *Workflow
	id          string
	state       *runtime.State
	sink        runtime.Sink
	logger      *slog.Logger
	concurrency int

	mu          sync.Mutex
	done        bool
	output      string
	joins       map[*edgeGroup]*joinBuffer
	activations int
}

// Run executes the workflow for input and blocks until an executor yields
// output or the run fails. Handler errors, routing errors, and cancellation
// fail the run with no output.
func (w *Workflow) Run(ctx context.Context, input any, opts ...RunOption) (string, error) {
	o := collectOptions(opts)
	return w.execute(ctx, input, o)
}

func (w *Workflow) execute(ctx context.Context, input any, o runOptions) (string, error) {
	r := &run{
		wf:          w,
		id:          o.runID,
		state:       runtime.NewState(),
		sink:        runtime.SerialSink(o.sink),
		concurrency: o.maxConcurrency,
		joins:       make(map[*edgeGroup]*joinBuffer),
	}
	if r.id == "" {
		r.id = uuid.NewString()
	}
	r.logger = w.logger.With("workflow", w.name, "run_id", r.id)

	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "workflow.run", trace.WithAttributes(
		attribute.String("workflow.name", w.name),
		attribute.String("run.id", r.id),
	))
	defer span.End()

	started := time.Now()
	r.logger.Debug("workflow run started", "start", w.start)

	output, err := r.drive(ctx, input)
	span.SetAttributes(attribute.Int("run.activations", r.activationCount()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.Error("workflow run failed", "error", err, "duration", time.Since(started))
		return "", err
	}

	r.logger.Info("workflow run completed", "duration", time.Since(started), "activations", r.activationCount())
	return output, nil
}

func (r *run) drive(ctx context.Context, input any) (string, error) {
	queue := [][]delivery{{{target: r.wf.start, msg: input}}}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("workflow %q canceled: %w", r.wf.name, err)
		}

		batch := queue[0]
		queue = queue[1:]
		if len(batch) == 0 {
			continue
		}

		if err := r.reserve(len(batch)); err != nil {
			return "", err
		}

		outs, err := r.runBatch(ctx, batch)
		if err != nil {
			return "", err
		}
		if output, ok := r.finished(); ok {
			return output, nil
		}

		for _, out := range outs {
			for _, msg := range out.msgs {
				next, err := r.route(out.source, msg)
				if err != nil {
					return "", err
				}
				if len(next) > 0 {
					queue = append(queue, next)
				}
			}
		}
	}

	if waiting := r.pendingJoins(); waiting != "" {
		return "", fmt.Errorf("workflow %q: %w: %s", r.wf.name, domain.ErrNoOutput, waiting)
	}
	return "", fmt.Errorf("workflow %q: %w", r.wf.name, domain.ErrNoOutput)
}

// reserve counts n activations against the run's limit.
func (r *run) reserve(n int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activations += n
	if r.activations > r.wf.limit {
		return fmt.Errorf("workflow %q exceeded maximum activations (%d)", r.wf.name, r.wf.limit)
	}
	return nil
}

func (r *run) activationCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activations
}

// runBatch activates every delivery in the batch. More than one delivery
// runs concurrently and all of them are joined before the driver continues.
func (r *run) runBatch(ctx context.Context, batch []delivery) ([]emitted, error) {
	if len(batch) == 1 {
		out, err := r.activate(ctx, batch[0])
		if err != nil {
			return nil, err
		}
		return []emitted{out}, nil
	}

	outs := make([]emitted, len(batch))
	g, gctx := errgroup.WithContext(ctx)
	if r.concurrency > 0 {
		g.SetLimit(r.concurrency)
	}
	for i, d := range batch {
		g.Go(func() error {
			out, err := r.activate(gctx, d)
			if err != nil {
				return err
			}
			outs[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outs, nil
}

func (r *run) activate(ctx context.Context, d delivery) (emitted, error) {
	exec := r.wf.executors[d.target]
	act := &activation{run: r, nodeID: d.target, logger: r.logger.With("node_id", d.target)}

	tracer := otel.Tracer(tracerName)
	nodeCtx, span := tracer.Start(ctx, "workflow.node", trace.WithAttributes(
		attribute.String("workflow.name", r.wf.name),
		attribute.String("node.id", d.target),
	))

	act.Notify(runtime.Event{Kind: runtime.EventNodeEntered})
	act.logger.Debug("executor activated", "message_type", fmt.Sprintf("%T", d.msg))

	started := time.Now()
	err := invoke(nodeCtx, exec, d.msg, act)
	elapsed := time.Since(started)

	outcome := classifyOutcome(err, act.yielded())
	span.SetAttributes(attribute.String("node.outcome", string(outcome)))
	telemetry.RecordNodeMetrics(nodeCtx, telemetry.NodeMetrics{
		Workflow: r.wf.name,
		NodeID:   d.target,
		Outcome:  outcome,
		Duration: elapsed,
	})

	exited := runtime.Event{Kind: runtime.EventNodeExited, Duration: elapsed}
	if err != nil {
		exited.Error = err.Error()
	}
	act.Notify(exited)

	if err != nil {
		act.logger.Error("executor failed", "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		return emitted{}, fmt.Errorf("executor %q failed: %w", d.target, err)
	}
	span.End()

	return emitted{source: d.target, msgs: act.drain()}, nil
}

// invoke calls the executor, converting a panic into an error so the run
// fails instead of the process.
func invoke(ctx context.Context, exec runtime.Executor, msg any, wctx runtime.Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("executor panicked: %v", rec)
		}
	}()
	return exec.Handle(ctx, msg, wctx)
}

func classifyOutcome(err error, yielded bool) runtime.Outcome {
	switch {
	case err == nil && yielded:
		return runtime.OutcomeYield
	case err == nil:
		return runtime.OutcomeSuccess
	case errors.Is(err, domain.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return runtime.OutcomeTimeout
	case errors.Is(err, context.Canceled):
		return runtime.OutcomeCanceled
	default:
		return runtime.OutcomeFailure
	}
}

// route turns one message from source into the batch of deliveries its
// outgoing edge groups produce.
func (r *run) route(source string, msg any) ([]delivery, error) {
	var batch []delivery
	for _, g := range r.wf.outgoing[source] {
		switch g.kind {
		case edgeDirect, edgeFanOut:
			for _, t := range g.targets {
				batch = append(batch, delivery{target: t, msg: msg})
			}
		case edgeSelect:
			chosen, err := r.selectTargets(source, g, msg)
			if err != nil {
				return nil, err
			}
			for _, t := range chosen {
				batch = append(batch, delivery{target: t, msg: msg})
			}
		case edgeFanIn:
			joined, ready, err := r.join(source, g, msg)
			if err != nil {
				return nil, err
			}
			if ready {
				batch = append(batch, delivery{target: g.targets[0], msg: joined})
			}
		}
	}
	if len(batch) == 0 {
		r.logger.Debug("message not routed", "source", source, "message_type", fmt.Sprintf("%T", msg))
	}
	return batch, nil
}

func (r *run) selectTargets(source string, g *edgeGroup, msg any) ([]string, error) {
	chosen := g.selector(msg, slices.Clone(g.targets))
	out := make([]string, 0, len(chosen))
	for _, id := range chosen {
		if !slices.Contains(g.targets, id) {
			return nil, &domain.RoutingError{Source: source, Target: id}
		}
		if slices.Contains(out, id) {
			continue
		}
		out = append(out, id)
	}
	r.logger.Debug("selection routed message", "source", source, "targets", out)
	return out, nil
}

// join buffers msg for a fan-in group and returns the joined list once
// every source has reported.
func (r *run) join(source string, g *edgeGroup, msg any) ([]any, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	buf, ok := r.joins[g]
	if !ok {
		buf = &joinBuffer{received: make(map[string]any, len(g.sources))}
		r.joins[g] = buf
	}
	if _, dup := buf.received[source]; dup {
		return nil, false, fmt.Errorf("fan-in into %q: source %q reported twice before the join completed", g.targets[0], source)
	}
	buf.received[source] = msg
	if len(buf.received) < len(g.sources) {
		return nil, false, nil
	}

	joined := make([]any, 0, len(g.sources))
	for _, src := range g.sources {
		joined = append(joined, buf.received[src])
	}
	delete(r.joins, g)
	return joined, true, nil
}

func (r *run) pendingJoins() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var parts []string
	for g, buf := range r.joins {
		var missing []string
		for _, src := range g.sources {
			if _, ok := buf.received[src]; !ok {
				missing = append(missing, src)
			}
		}
		parts = append(parts, fmt.Sprintf("fan-in into %q waiting on %s", g.targets[0], strings.Join(missing, ",")))
	}
	slices.Sort(parts)
	return strings.Join(parts, "; ")
}

func (r *run) yield(text string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return false
	}
	r.done = true
	r.output = text
	return true
}

func (r *run) finished() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.output, r.done
}

// activation implements runtime.Context for one executor call.
type activation struct {
	run    *run
	nodeID string
	logger *slog.Logger

	mu       sync.Mutex
	outbox   []any
	didYield bool
}

func (a *activation) RunID() string { return a.run.id }

func (a *activation) State() *runtime.State { return a.run.state }

func (a *activation) Logger() *slog.Logger { return a.logger }

func (a *activation) SendMessage(msg any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.didYield {
		a.logger.Debug("message dropped after yield")
		return
	}
	a.outbox = append(a.outbox, msg)
}

func (a *activation) YieldOutput(text string) {
	won := a.run.yield(text)
	a.mu.Lock()
	a.didYield = a.didYield || won
	a.mu.Unlock()
	if !won {
		a.logger.Warn("output already yielded; ignoring second yield")
	}
}

func (a *activation) Notify(evt runtime.Event) {
	if evt.RunID == "" {
		evt.RunID = a.run.id
	}
	if evt.NodeID == "" {
		evt.NodeID = a.nodeID
	}
	runtime.Notify(a.run.sink, evt)
}

func (a *activation) yielded() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.didYield
}

func (a *activation) drain() []any {
	a.mu.Lock()
	defer a.mu.Unlock()
	msgs := a.outbox
	a.outbox = nil
	return msgs
}
