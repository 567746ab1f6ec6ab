package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/trace"

	"github.com/polisai/polis-triage/pkg/domain"
)

// ErrorCode is the machine-readable code of an error response.
type ErrorCode string

const (
	CodeInvalidRequest     ErrorCode = "INVALID_REQUEST"
	CodeInvalidModelOutput ErrorCode = "INVALID_MODEL_OUTPUT"
	CodeRunTimeout         ErrorCode = "RUN_TIMEOUT"
	CodeRunCanceled        ErrorCode = "RUN_CANCELED"
	CodeRunFailed          ErrorCode = "RUN_FAILED"
	CodeStreamUnsupported  ErrorCode = "STREAMING_UNSUPPORTED"
	CodeHistoryUnavailable ErrorCode = "HISTORY_UNAVAILABLE"
)

// ErrorResponse is the JSON body of every error answer.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody describes the failure.
type ErrorBody struct {
	Message string    `json:"message"`
	Type    string    `json:"type"`
	Code    ErrorCode `json:"code"`
	RunID   string    `json:"run_id,omitempty"`
	TraceID string    `json:"trace_id,omitempty"`
}

// classifyRunError maps a failed run onto an HTTP status, an error code and a
// metrics outcome.
func classifyRunError(err error) (int, ErrorCode, string) {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, domain.ErrTimeout):
		return http.StatusGatewayTimeout, CodeRunTimeout, OutcomeTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, CodeRunCanceled, OutcomeCanceled
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadGateway, CodeInvalidModelOutput, OutcomeFailed
	default:
		return http.StatusInternalServerError, CodeRunFailed, OutcomeFailed
	}
}

func errorBody(ctx context.Context, code ErrorCode, message, runID string) ErrorBody {
	body := ErrorBody{Message: message, Type: errorType(code), Code: code, RunID: runID}
	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		body.TraceID = sc.TraceID().String()
	}
	return body
}

func errorType(code ErrorCode) string {
	switch code {
	case CodeInvalidRequest:
		return "invalid_request_error"
	case CodeRunTimeout, CodeRunCanceled:
		return "timeout_error"
	default:
		return "server_error"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code ErrorCode, message, runID string, logger *slog.Logger) {
	writeJSON(w, status, ErrorResponse{Error: errorBody(ctx, code, message, runID)}, logger)
}
