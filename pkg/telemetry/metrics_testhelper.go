package telemetry

import "sync"

// ResetMetricsForTest clears cached metric instruments so tests can
// reinitialize them against a fresh MeterProvider. Test code only.
func ResetMetricsForTest() {
	metricsOnce = sync.Once{}
	metricsInitErr = nil
	nodeActivationCount = nil
	nodeTimeoutCounter = nil
	nodeLatencyHistogram = nil
	taskExecutionCounter = nil
	taskFailureCounter = nil
	taskRetryCounter = nil
	taskLatencyHistogram = nil
	reviewRetryCounter = nil
}
