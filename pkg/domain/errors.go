package domain

import (
	"errors"
	"fmt"
	"time"
)

// Common domain errors
var (
	ErrValidation    = errors.New("validation failed")
	ErrRouting       = errors.New("routing failed")
	ErrTransport     = errors.New("transport failed")
	ErrTimeout       = errors.New("call timed out")
	ErrAggregation   = errors.New("aggregation failed")
	ErrNoOutput      = errors.New("run finished without output")
	ErrUnknownWorker = errors.New("unknown worker")
	ErrConfigInvalid = errors.New("invalid configuration")
)

// ValidationError reports that a structured model output, or a plan derived
// from it, does not match its declared shape. Fatal to the run.
type ValidationError struct {
	Shape string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Shape == "" {
		return fmt.Sprintf("validation failed: %v", e.Err)
	}
	return fmt.Sprintf("validation failed for %s: %v", e.Shape, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Is matches ErrValidation.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// RoutingError reports that a selection function named a target that is not
// a candidate of its edge group. Fatal to the run.
type RoutingError struct {
	Source string
	Target string
}

func (e *RoutingError) Error() string {
	return fmt.Sprintf("routing failed: %q selected unknown target %q", e.Source, e.Target)
}

// Is matches ErrRouting.
func (e *RoutingError) Is(target error) bool { return target == ErrRouting }

// TransportError reports a failed collaborator call.
type TransportError struct {
	Target string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("call to %s failed: %v", e.Target, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is matches ErrTransport.
func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// TimeoutError reports a collaborator call that exceeded its deadline.
type TimeoutError struct {
	Target string
	After  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("call to %s timed out after %s", e.Target, e.After)
}

// Is matches ErrTimeout.
func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// AggregationError reports a result set that cannot be formatted.
type AggregationError struct {
	Reason string
}

func (e *AggregationError) Error() string {
	return "aggregation failed: " + e.Reason
}

// Is matches ErrAggregation.
func (e *AggregationError) Is(target error) bool { return target == ErrAggregation }

// IsStructural reports whether err must abort a run rather than be recovered
// into a placeholder result.
func IsStructural(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrRouting) || errors.Is(err, ErrAggregation)
}

// ErrorResponse defines the JSON error model returned by the run API.
// TraceID should carry the current OpenTelemetry trace identifier when available to aid diagnostics.
type ErrorResponse struct {
	Code    string `json:"code"`               // Machine-readable error code (e.g., VALIDATION_FAILED)
	Message string `json:"message"`            // Human-readable message (safe for logs)
	TraceID string `json:"trace_id,omitempty"` // Optional trace/correlation ID
}

// ErrorCode maps a run failure onto a stable machine-readable code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "VALIDATION_FAILED"
	case errors.Is(err, ErrRouting):
		return "ROUTING_FAILED"
	case errors.Is(err, ErrTimeout):
		return "TIMEOUT"
	case errors.Is(err, ErrTransport):
		return "TRANSPORT_FAILED"
	case errors.Is(err, ErrAggregation):
		return "AGGREGATION_FAILED"
	case errors.Is(err, ErrNoOutput):
		return "NO_OUTPUT"
	default:
		return "RUN_FAILED"
	}
}
