package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/polisai/polis-triage/internal/governance"
)

const maxResponseBytes = 4 << 20

// HTTPWorker posts tasks to a remote worker service.
//
// The request body is {"task": "..."} and the service answers
// {"response": "..."}. 429 and 5xx answers are retryable.
type HTTPWorker struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

// NewHTTPWorker creates a worker for endpoint. A nil client gets an
// otelhttp-instrumented default.
func NewHTTPWorker(endpoint string, client *http.Client, logger *slog.Logger) *HTTPWorker {
	if client == nil {
		client = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPWorker{endpoint: endpoint, client: client, logger: logger}
}

type httpTask struct {
	Task string `json:"task"`
}

type httpAnswer struct {
	Response string `json:"response"`
}

// Answer implements Worker.
func (w *HTTPWorker) Answer(ctx context.Context, task string) (string, error) {
	body, err := json.Marshal(httpTask{Task: task})
	if err != nil {
		return "", fmt.Errorf("encode task: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return "", governance.Retryable(fmt.Errorf("worker request failed: %w", err))
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			w.logger.Warn("failed to close worker response body", "error", closeErr)
		}
	}()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("read worker response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := fmt.Errorf("worker returned status %d: %s", resp.StatusCode, bytes.TrimSpace(payload))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return "", governance.Retryable(statusErr)
		}
		return "", statusErr
	}

	var answer httpAnswer
	if err := json.Unmarshal(payload, &answer); err != nil {
		return "", fmt.Errorf("decode worker response: %w", err)
	}
	return answer.Response, nil
}
