package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Run outcomes used as metric labels.
const (
	OutcomeSuccess  = "success"
	OutcomeFailed   = "failed"
	OutcomeTimeout  = "timeout"
	OutcomeInvalid  = "invalid"
	OutcomeCanceled = "canceled"
)

// Metrics holds the Prometheus metrics of the front end.
type Metrics struct {
	runsTotal      *prometheus.CounterVec
	runDuration    *prometheus.HistogramVec
	runsInFlight   prometheus.Gauge
	progressEvents *prometheus.CounterVec
	sseEvents      *prometheus.CounterVec

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// NewMetrics creates a metrics instance on its own registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "triage_runs_total",
				Help: "Total number of workflow runs by outcome",
			},
			[]string{"outcome"},
		),

		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "triage_run_duration_seconds",
				Help:    "Workflow run latency in seconds",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"outcome"},
		),

		runsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "triage_runs_in_flight",
				Help: "Number of workflow runs currently executing",
			},
		),

		progressEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "triage_progress_events_total",
				Help: "Total number of progress events emitted by runs, by kind",
			},
			[]string{"kind"},
		),

		sseEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "triage_sse_events_total",
				Help: "Total number of server-sent events written, by event name",
			},
			[]string{"event"},
		),

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "triage_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "triage_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		registry: registry,
	}

	registry.MustRegister(
		m.runsTotal,
		m.runDuration,
		m.runsInFlight,
		m.progressEvents,
		m.sseEvents,
		m.httpRequestsTotal,
		m.httpRequestDuration,
	)

	return m
}

// RunStarted marks a run as in flight.
func (m *Metrics) RunStarted() {
	m.runsInFlight.Inc()
}

// RunFinished records the outcome and latency of a run.
func (m *Metrics) RunFinished(outcome string, duration time.Duration) {
	m.runsInFlight.Dec()
	m.runsTotal.WithLabelValues(outcome).Inc()
	m.runDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordInvalidRun counts a request rejected before a run started.
func (m *Metrics) RecordInvalidRun() {
	m.runsTotal.WithLabelValues(OutcomeInvalid).Inc()
}

// RecordProgressEvent counts a progress event of kind.
func (m *Metrics) RecordProgressEvent(kind string) {
	m.progressEvents.WithLabelValues(kind).Inc()
}

// RecordSSEEvent counts an event written to a stream.
func (m *Metrics) RecordSSEEvent(event string) {
	m.sseEvents.WithLabelValues(event).Inc()
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// Handler returns the Prometheus metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Middleware records request counts and latency per endpoint.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		m.RecordHTTPRequest(r.Method, endpointName(r.URL.Path), strconv.Itoa(wrapped.statusCode), time.Since(start))
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

func endpointName(path string) string {
	switch path {
	case PathRuns:
		return "runs"
	case PathHealth:
		return "health"
	case PathMetrics:
		return "metrics"
	default:
		return "unknown"
	}
}
