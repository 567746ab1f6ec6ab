// Package orchestrator executes plans: tasks are grouped by step, steps run
// in ascending order, and the tasks of one step run concurrently with the
// previous step's results threaded in as context.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/polisai/polis-triage/internal/governance"
	"github.com/polisai/polis-triage/pkg/aggregate"
	"github.com/polisai/polis-triage/pkg/domain"
	"github.com/polisai/polis-triage/pkg/engine/runtime"
	"github.com/polisai/polis-triage/pkg/telemetry"
	"github.com/polisai/polis-triage/pkg/worker"
)

const tracerName = "triage.workflow"

// Config wires an Orchestrator.
type Config struct {
	Registry *worker.Registry
	// Policy governs every worker call. Nil runs calls ungoverned.
	Policy *governance.CallPolicy
	// MaxConcurrency bounds the tasks of one step running at once. Zero or
	// less means no bound.
	MaxConcurrency int
	// Workflow labels metrics.
	Workflow   string
	Redactions map[string]string
	Logger     *slog.Logger
}

// Orchestrator runs plans against registered workers.
type Orchestrator struct {
	registry       *worker.Registry
	policy         *governance.CallPolicy
	maxConcurrency int
	workflow       string
	redactions     map[string]string
	logger         *slog.Logger
}

// New creates an Orchestrator.
func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	registry := cfg.Registry
	if registry == nil {
		registry = worker.NewRegistry()
	}
	return &Orchestrator{
		registry:       registry,
		policy:         cfg.Policy,
		maxConcurrency: cfg.MaxConcurrency,
		workflow:       cfg.Workflow,
		redactions:     cfg.Redactions,
		logger:         logger,
	}
}

// Registry returns the worker registry plans are checked against.
func (o *Orchestrator) Registry() *worker.Registry { return o.registry }

// RunPlan executes plan and returns its results keyed by step.
func (o *Orchestrator) RunPlan(ctx context.Context, plan domain.Plan, sink runtime.Sink) (domain.StepResults, error) {
	if err := plan.Validate(o.registry.Known); err != nil {
		return nil, err
	}
	return o.run(ctx, plan, 0, nil, sink)
}

// RunRetryPlan executes a retry plan after existing results. The plan runs
// numbered past existing.MaxStep(), so its first step sees the last existing
// step as context. The merged results are returned; existing is not
// modified.
func (o *Orchestrator) RunRetryPlan(ctx context.Context, plan domain.Plan, existing domain.StepResults, sink runtime.Sink) (domain.StepResults, error) {
	if err := plan.Validate(o.registry.Known); err != nil {
		return nil, err
	}
	offset := existing.MaxStep()
	fresh, err := o.run(ctx, plan, offset, existing[offset], sink)
	if err != nil {
		return nil, err
	}
	return existing.Merge(fresh), nil
}

// run executes plan and returns results keyed by the plan's own step
// numbers. Steps are reported shifted by offset, and step 1 gets prior as
// its context.
func (o *Orchestrator) run(ctx context.Context, plan domain.Plan, offset int, prior []domain.ExecutionResult, sink runtime.Sink) (domain.StepResults, error) {
	sink = runtime.SerialSink(sink)
	groups := plan.Group()
	results := make(domain.StepResults, len(groups))

	for _, step := range plan.Steps() {
		prev, ok := results[step-1]
		if !ok && step == 1 {
			prev = prior
		}
		stepContext := aggregate.StepContext(prev)

		tasks := groups[step]
		reported := step + offset
		o.logger.Info("executing plan step", "step", reported, "tasks", len(tasks))
		started := time.Now()

		stepResults, err := o.runStep(ctx, reported, tasks, stepContext, sink)
		if err != nil {
			return nil, err
		}
		results[step] = stepResults

		o.logger.Info("plan step finished",
			"step", reported,
			"tasks", len(tasks),
			"duration", time.Since(started),
		)
	}

	o.logger.Info("plan finished",
		"steps", len(groups),
		"tasks", results.Len(),
		"failed_tasks", results.Failures(),
	)
	return results, nil
}

func (o *Orchestrator) runStep(ctx context.Context, step int, tasks []domain.PlanStep, stepContext string, sink runtime.Sink) ([]domain.ExecutionResult, error) {
	var (
		mu      sync.Mutex
		results = make([]domain.ExecutionResult, 0, len(tasks))
	)

	var g errgroup.Group
	if o.maxConcurrency > 0 {
		g.SetLimit(o.maxConcurrency)
	}
	for _, task := range tasks {
		g.Go(func() error {
			res := o.runTask(ctx, step, task, stepContext, sink)
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("step %d interrupted: %w", step, err)
	}
	return results, nil
}

func (o *Orchestrator) runTask(ctx context.Context, step int, task domain.PlanStep, stepContext string, sink runtime.Sink) domain.ExecutionResult {
	target := string(task.Target)
	attrs := telemetry.RedactAttributes(o.redactions, []attribute.KeyValue{
		attribute.String("task.target", target),
		attribute.Int("task.step", step),
		attribute.String("task.instruction", task.Instruction),
	})
	ctx, span := otel.Tracer(tracerName).Start(ctx, "orchestrator.task",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
	defer span.End()

	runtime.Notify(sink, runtime.Event{
		Kind:    runtime.EventTaskStarted,
		Target:  target,
		Step:    step,
		Message: fmt.Sprintf("[%s] agent invoked", target),
	})

	started := time.Now()
	output, stats, err := o.call(ctx, task, aggregate.TaskMessage(stepContext, task.Instruction))
	elapsed := time.Since(started)

	result := domain.ExecutionResult{
		Target:      task.Target,
		Instruction: task.Instruction,
		Output:      output,
	}
	finished := runtime.Event{
		Kind:     runtime.EventTaskFinished,
		Target:   target,
		Step:     step,
		Message:  fmt.Sprintf("[%s] agent finished", target),
		Duration: elapsed,
	}

	if err != nil {
		result.Output = failureDetail(task.Target, err)
		result.Failed = true
		finished.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.logger.Warn("task failed; recording placeholder result",
			"step", step,
			"target", target,
			"error", err,
		)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.SetAttributes(attribute.Int("task.attempts", stats.Attempts))

	telemetry.RecordTaskMetrics(ctx, telemetry.TaskMetrics{
		Workflow: o.workflow,
		Target:   target,
		Step:     step,
		Failed:   err != nil,
		TimedOut: errors.Is(err, domain.ErrTimeout),
		Duration: elapsed,
		Retries:  stats.Retries(),
	})
	runtime.Notify(sink, finished)
	return result
}

func (o *Orchestrator) call(ctx context.Context, task domain.PlanStep, message string) (string, governance.CallStats, error) {
	w, err := o.registry.Lookup(task.Target)
	if err != nil {
		return "", governance.CallStats{}, err
	}
	if o.policy == nil {
		out, err := w.Answer(ctx, message)
		return out, governance.CallStats{Attempts: 1}, err
	}
	return o.policy.Call(ctx, string(task.Target), func(ctx context.Context) (string, error) {
		return w.Answer(ctx, message)
	})
}

func failureDetail(target domain.WorkerID, err error) string {
	var timeout *domain.TimeoutError
	if errors.As(err, &timeout) {
		return fmt.Sprintf("Error: %s did not answer within %s.", target, timeout.After)
	}
	return fmt.Sprintf("Error: %s could not complete the task: %v", target, err)
}
