package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/polisai/polis-triage/pkg/engine/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const meterName = "triage.workflow"

var (
	metricsOnce          sync.Once
	metricsInitErr       error
	nodeActivationCount  metric.Int64Counter
	nodeTimeoutCounter   metric.Int64Counter
	nodeLatencyHistogram metric.Float64Histogram
	taskExecutionCounter metric.Int64Counter
	taskFailureCounter   metric.Int64Counter
	taskRetryCounter     metric.Int64Counter
	taskLatencyHistogram metric.Float64Histogram
	reviewRetryCounter   metric.Int64Counter
)

// NodeMetrics captures the fields needed to record one executor activation.
type NodeMetrics struct {
	Workflow string
	NodeID   string
	Outcome  runtime.Outcome
	Duration time.Duration
}

// TaskMetrics captures the fields needed to record one plan task.
type TaskMetrics struct {
	Workflow string
	Target   string
	Step     int
	Failed   bool
	TimedOut bool
	Duration time.Duration
	Retries  int
}

// RecordNodeMetrics emits counters and histograms that describe executor activations.
func RecordNodeMetrics(ctx context.Context, m NodeMetrics) {
	if err := ensureMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("workflow.name", m.Workflow),
		attribute.String("node.id", m.NodeID),
		attribute.String("node.outcome", string(m.Outcome)),
	)

	nodeActivationCount.Add(ctx, 1, attrs)
	if m.Duration > 0 {
		nodeLatencyHistogram.Record(ctx, millis(m.Duration), attrs)
	}
	if m.Outcome == runtime.OutcomeTimeout {
		nodeTimeoutCounter.Add(ctx, 1, attrs)
	}
}

// RecordTaskMetrics emits counters and histograms for a single worker task.
func RecordTaskMetrics(ctx context.Context, m TaskMetrics) {
	if err := ensureMetrics(); err != nil {
		return
	}

	status := "ok"
	switch {
	case m.TimedOut:
		status = "timeout"
	case m.Failed:
		status = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("workflow.name", m.Workflow),
		attribute.String("task.target", m.Target),
		attribute.String("task.status", status),
	)

	taskExecutionCounter.Add(ctx, 1, attrs)
	if m.Failed {
		taskFailureCounter.Add(ctx, 1, attrs)
	}
	if m.Retries > 0 {
		taskRetryCounter.Add(ctx, int64(m.Retries), attrs)
	}
	if m.Duration > 0 {
		taskLatencyHistogram.Record(ctx, millis(m.Duration), attrs)
	}
}

// RecordRetryCycle counts a review-driven retry cycle. forced marks review
// outcomes that were overridden because the retry budget was spent.
func RecordRetryCycle(ctx context.Context, workflow string, forced bool) {
	if err := ensureMetrics(); err != nil {
		return
	}
	reviewRetryCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("workflow.name", workflow),
		attribute.Bool("review.forced", forced),
	))
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter(meterName)

		nodeActivationCount, metricsInitErr = meter.Int64Counter(
			"triage.node.activations_total",
			metric.WithDescription("Executor activations partitioned by outcome"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		nodeTimeoutCounter, metricsInitErr = meter.Int64Counter(
			"triage.node.timeout_total",
			metric.WithDescription("Executor activations that ended in a timeout"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		nodeLatencyHistogram, metricsInitErr = meter.Float64Histogram(
			"triage.node.duration_ms",
			metric.WithDescription("Observed executor activation latency"),
			metric.WithUnit("ms"),
		)
		if metricsInitErr != nil {
			return
		}

		taskExecutionCounter, metricsInitErr = meter.Int64Counter(
			"triage.task.executions_total",
			metric.WithDescription("Plan tasks executed against workers"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		taskFailureCounter, metricsInitErr = meter.Int64Counter(
			"triage.task.failures_total",
			metric.WithDescription("Plan tasks recorded as failure placeholders"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		taskRetryCounter, metricsInitErr = meter.Int64Counter(
			"triage.task.retries_total",
			metric.WithDescription("Transport retries performed by worker calls"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		taskLatencyHistogram, metricsInitErr = meter.Float64Histogram(
			"triage.task.duration_ms",
			metric.WithDescription("Observed worker task latency"),
			metric.WithUnit("ms"),
		)
		if metricsInitErr != nil {
			return
		}

		reviewRetryCounter, metricsInitErr = meter.Int64Counter(
			"triage.review.retry_cycles_total",
			metric.WithDescription("Review outcomes that entered or were denied a retry cycle"),
			metric.WithUnit("{count}"),
		)
	})

	return metricsInitErr
}

// RecordReviewEvent attaches the review verdict to span without exporting
// the summary text.
func RecordReviewEvent(span trace.Span, complete bool, forced bool, confidence float64, retryCount int) {
	if span == nil || !span.IsRecording() {
		return
	}

	span.AddEvent("review.decision", trace.WithAttributes(
		attribute.Bool("review.complete", complete),
		attribute.Bool("review.forced", forced),
		attribute.Float64("review.confidence", confidence),
		attribute.Int("review.retry_count", retryCount),
	))
}
