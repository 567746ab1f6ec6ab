package worker

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/polis-triage/internal/governance"
	"github.com/polisai/polis-triage/pkg/domain"
	"github.com/polisai/polis-triage/pkg/inference"
	"github.com/polisai/polis-triage/pkg/inference/inferencetest"
)

func echo(prefix string) Worker {
	return Func(func(_ context.Context, task string) (string, error) {
		return prefix + task, nil
	})
}

func TestRegistryIsClosed(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(domain.WorkerServiceNow, "ServiceNow operations", echo("sn:")))

	err := reg.Register("jira", "tickets", echo("j:"))
	assert.ErrorIs(t, err, domain.ErrUnknownWorker)
	assert.Error(t, reg.Register(domain.WorkerLogAnalytics, "", nil))

	w, err := reg.Lookup(domain.WorkerServiceNow)
	require.NoError(t, err)
	out, err := w.Answer(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "sn:x", out)

	_, err = reg.Lookup(domain.WorkerLogAnalytics)
	assert.ErrorIs(t, err, domain.ErrUnknownWorker)
	assert.True(t, reg.Known(domain.WorkerServiceNow))
	assert.False(t, reg.Known(domain.WorkerLogAnalytics))
}

func TestRegistryListingIsSorted(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(domain.WorkerServiceNow, "ServiceNow operations", echo("")))
	require.NoError(t, reg.Register(domain.WorkerLogAnalytics, "Pipeline monitoring", echo("")))
	require.NoError(t, reg.Register(domain.WorkerServiceHealth, "", echo("")))

	assert.Equal(t, []domain.WorkerID{domain.WorkerLogAnalytics, domain.WorkerServiceHealth, domain.WorkerServiceNow}, reg.IDs())
	assert.Equal(t, []string{"Pipeline monitoring", "ServiceNow operations"}, reg.Descriptions())
}

func TestLLMWorkerUsesInstructionsAsSystemPrompt(t *testing.T) {
	model := inferencetest.New().OnText("incidents", "2 open incidents")
	w := NewLLMWorker(model, "You are the ServiceNow agent.")

	out, err := w.Answer(context.Background(), "list incidents")
	require.NoError(t, err)
	assert.Equal(t, "2 open incidents", out)

	prompts := model.Prompts()
	require.Len(t, prompts, 1)
	assert.Equal(t, inference.Prompt{System: "You are the ServiceNow agent.", User: "list incidents"}, prompts[0])
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestHTTPWorkerRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var body httpTask
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(httpAnswer{Response: "healthy: " + body.Task})
	}))
	defer srv.Close()

	w := NewHTTPWorker(srv.URL, srv.Client(), quiet())
	out, err := w.Answer(context.Background(), "databricks")
	require.NoError(t, err)
	assert.Equal(t, "healthy: databricks", out)
}

func TestHTTPWorkerStatusClassification(t *testing.T) {
	tests := []struct {
		status    int
		retryable bool
	}{
		{http.StatusServiceUnavailable, true},
		{http.StatusTooManyRequests, true},
		{http.StatusBadRequest, false},
	}
	for _, tc := range tests {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "nope", tc.status)
			}))
			defer srv.Close()

			_, err := NewHTTPWorker(srv.URL, srv.Client(), quiet()).Answer(context.Background(), "x")
			require.Error(t, err)
			assert.Contains(t, err.Error(), "nope")
			assert.Equal(t, tc.retryable, governance.IsRetryableError(err))
		})
	}
}

func TestHTTPWorkerRejectsMalformedAnswer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	_, err := NewHTTPWorker(srv.URL, nil, quiet()).Answer(context.Background(), "x")
	assert.ErrorContains(t, err, "decode worker response")
}
