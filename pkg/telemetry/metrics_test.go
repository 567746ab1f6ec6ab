package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/polisai/polis-triage/pkg/engine/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func setupReader(t *testing.T) *sdkmetric.ManualReader {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	prev := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)
	t.Cleanup(func() {
		otel.SetMeterProvider(prev)
		ResetMetricsForTest()
	})
	ResetMetricsForTest()
	return reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	metrics := map[string]metricdata.Metrics{}
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			metrics[m.Name] = m
		}
	}
	return metrics
}

func TestRecordNodeMetrics(t *testing.T) {
	reader := setupReader(t)

	RecordNodeMetrics(context.Background(), NodeMetrics{
		Workflow: "dynamic",
		NodeID:   "review",
		Outcome:  runtime.OutcomeTimeout,
		Duration: 150 * time.Millisecond,
	})

	metrics := collect(t, reader)

	activations, ok := metrics["triage.node.activations_total"]
	require.True(t, ok, "missing activations metric")
	sum, ok := activations.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 1)
	assert.Equal(t, int64(1), sum.DataPoints[0].Value)
	value, ok := sum.DataPoints[0].Attributes.Value(attribute.Key("node.id"))
	require.True(t, ok)
	assert.Equal(t, "review", value.AsString())

	timeouts := metrics["triage.node.timeout_total"].Data.(metricdata.Sum[int64])
	assert.Equal(t, int64(1), timeouts.DataPoints[0].Value)

	hist := metrics["triage.node.duration_ms"].Data.(metricdata.Histogram[float64])
	assert.Equal(t, uint64(1), hist.DataPoints[0].Count)
	assert.Equal(t, float64(150), hist.DataPoints[0].Sum)
}

func TestRecordTaskMetrics(t *testing.T) {
	reader := setupReader(t)
	ctx := context.Background()

	RecordTaskMetrics(ctx, TaskMetrics{Workflow: "dynamic", Target: "servicenow", Step: 1, Duration: 10 * time.Millisecond})
	RecordTaskMetrics(ctx, TaskMetrics{Workflow: "dynamic", Target: "servicenow", Step: 2, Failed: true, TimedOut: true, Retries: 2})
	RecordRetryCycle(ctx, "dynamic", false)

	metrics := collect(t, reader)

	executions := metrics["triage.task.executions_total"].Data.(metricdata.Sum[int64])
	assert.Len(t, executions.DataPoints, 2, "ok and timeout statuses are separate series")

	failures := metrics["triage.task.failures_total"].Data.(metricdata.Sum[int64])
	require.Len(t, failures.DataPoints, 1)
	status, _ := failures.DataPoints[0].Attributes.Value(attribute.Key("task.status"))
	assert.Equal(t, "timeout", status.AsString())

	retries := metrics["triage.task.retries_total"].Data.(metricdata.Sum[int64])
	assert.Equal(t, int64(2), retries.DataPoints[0].Value)

	cycles := metrics["triage.review.retry_cycles_total"].Data.(metricdata.Sum[int64])
	assert.Equal(t, int64(1), cycles.DataPoints[0].Value)
}

func TestRecordReviewEvent(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	_, span := tp.Tracer("test").Start(context.Background(), "node")
	RecordReviewEvent(span, true, true, 0.4, 1)
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	events := spans[0].Events()
	require.Len(t, events, 1)
	assert.Equal(t, "review.decision", events[0].Name)

	attrs := attribute.NewSet(events[0].Attributes...)
	forced, ok := attrs.Value(attribute.Key("review.forced"))
	require.True(t, ok)
	assert.True(t, forced.AsBool())
	count, _ := attrs.Value(attribute.Key("review.retry_count"))
	assert.Equal(t, int64(1), count.AsInt64())

	assert.NotPanics(t, func() { RecordReviewEvent(nil, false, false, 0, 0) })
}
