// Package server exposes triage workflow runs over HTTP. A run answers with
// JSON, or streams its progress as server-sent events when the client asks
// for text/event-stream.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/polisai/polis-triage/pkg/domain"
	"github.com/polisai/polis-triage/pkg/engine"
	"github.com/polisai/polis-triage/pkg/engine/runtime"
	"github.com/polisai/polis-triage/pkg/storage"
)

// Routes served by Handler.
const (
	PathRuns    = "/v1/runs"
	PathHealth  = "/healthz"
	PathMetrics = "/metrics"
)

const (
	defaultHistoryLimit = 50
	maxRequestBytes     = 1 << 20
)

// Runner starts workflow runs. *engine.Workflow satisfies it.
type Runner interface {
	Start(ctx context.Context, input any, opts ...engine.RunOption) *engine.Handle
}

// Config wires a Server.
type Config struct {
	Runner Runner
	// Store keeps conversation history between requests. Defaults to an
	// in-memory store.
	Store   storage.ConversationStore
	Metrics *Metrics
	Logger  *slog.Logger
	// RunTimeout bounds each run. Zero means no bound beyond the request.
	RunTimeout time.Duration
	// HistoryLimit caps how many stored messages are replayed into a run.
	HistoryLimit int
	// MaxConcurrency is passed to every run as its fan-out bound.
	MaxConcurrency int
}

// RunRequest is the body of POST /v1/runs. When Messages is set it is used as
// the full history and the store is not consulted.
type RunRequest struct {
	ConversationID string               `json:"conversation_id,omitempty"`
	Query          string               `json:"query,omitempty"`
	Messages       []domain.ChatMessage `json:"messages,omitempty"`
}

// RunResponse is the answer to a completed run.
type RunResponse struct {
	RunID          string `json:"run_id"`
	ConversationID string `json:"conversation_id"`
	Output         string `json:"output"`
}

// Server is the HTTP front end.
type Server struct {
	runner         atomic.Value // runnerBox
	store          storage.ConversationStore
	metrics        *Metrics
	logger         *slog.Logger
	runTimeout     time.Duration
	historyLimit   int
	maxConcurrency int
}

type runnerBox struct{ Runner }

// New validates cfg and builds a Server.
func New(cfg Config) (*Server, error) {
	if cfg.Runner == nil {
		return nil, fmt.Errorf("%w: server needs a runner", domain.ErrConfigInvalid)
	}
	if cfg.Store == nil {
		cfg.Store = storage.NewMemoryStore()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}

	s := &Server{
		store:          cfg.Store,
		metrics:        cfg.Metrics,
		logger:         cfg.Logger.With("component", "server"),
		runTimeout:     cfg.RunTimeout,
		historyLimit:   cfg.HistoryLimit,
		maxConcurrency: cfg.MaxConcurrency,
	}
	s.runner.Store(runnerBox{cfg.Runner})
	return s, nil
}

// SetRunner swaps the runner used by subsequent requests. Runs already in
// flight keep the runner they started with.
func (s *Server) SetRunner(r Runner) {
	if r == nil {
		return
	}
	s.runner.Store(runnerBox{r})
	s.logger.Info("workflow definition replaced")
}

// Metrics returns the server's metrics.
func (s *Server) Metrics() *Metrics { return s.metrics }

// Handler returns the instrumented HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+PathRuns, s.handleRun)
	mux.HandleFunc("GET "+PathHealth, s.handleHealth)
	mux.Handle("GET "+PathMetrics, s.metrics.Handler())
	return otelhttp.NewHandler(s.metrics.Middleware(mux), "polis-triage")
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, s.logger)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, err := decodeRunRequest(r)
	if err != nil {
		s.metrics.RecordInvalidRun()
		writeError(ctx, w, http.StatusBadRequest, CodeInvalidRequest, err.Error(), "", s.logger)
		return
	}
	if req.ConversationID == "" {
		req.ConversationID = uuid.NewString()
	}

	input, err := s.buildInput(ctx, req)
	if err != nil {
		s.logger.Error("failed to load history", "conversation_id", req.ConversationID, "error", err)
		writeError(ctx, w, http.StatusInternalServerError, CodeHistoryUnavailable, "conversation history is unavailable", "", s.logger)
		return
	}

	if s.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.runTimeout)
		defer cancel()
	}

	runID := uuid.NewString()
	if wantsStream(r) {
		s.streamRun(ctx, w, req, input, runID)
		return
	}

	started := time.Now()
	s.metrics.RunStarted()
	output, err := s.start(ctx, input, runID, nil).Wait()
	if err != nil {
		status, code, outcome := classifyRunError(err)
		s.metrics.RunFinished(outcome, time.Since(started))
		s.logger.Error("run failed", "run_id", runID, "error", err)
		writeError(ctx, w, status, code, err.Error(), runID, s.logger)
		return
	}
	s.metrics.RunFinished(OutcomeSuccess, time.Since(started))
	s.remember(ctx, req, output)

	writeJSON(w, http.StatusOK, RunResponse{RunID: runID, ConversationID: req.ConversationID, Output: output}, s.logger)
}

func (s *Server) streamRun(ctx context.Context, w http.ResponseWriter, req RunRequest, input domain.RunInput, runID string) {
	stream, ok := newSSEWriter(w)
	if !ok {
		writeError(ctx, w, http.StatusInternalServerError, CodeStreamUnsupported, "response writer cannot stream", runID, s.logger)
		return
	}

	events := make(chan runtime.Event, 64)
	sink := runtime.SinkFunc(func(evt runtime.Event) {
		select {
		case events <- evt:
		case <-ctx.Done():
		}
	})

	started := time.Now()
	s.metrics.RunStarted()
	handle := s.start(ctx, input, runID, sink)

	send := func(name string, v any) {
		data, err := json.Marshal(v)
		if err != nil {
			s.logger.Error("failed to encode stream event", "run_id", runID, "error", err)
			return
		}
		if err := stream.write(name, data); err != nil {
			s.logger.Debug("stream write failed", "run_id", runID, "error", err)
			return
		}
		s.metrics.RecordSSEEvent(name)
	}

	for done := false; !done; {
		select {
		case evt := <-events:
			send(EventProgress, evt)
		case <-handle.Done():
			done = true
		}
	}
	for drained := false; !drained; {
		select {
		case evt := <-events:
			send(EventProgress, evt)
		default:
			drained = true
		}
	}

	output, err := handle.Wait()
	if err != nil {
		_, code, outcome := classifyRunError(err)
		s.metrics.RunFinished(outcome, time.Since(started))
		s.logger.Error("run failed", "run_id", runID, "error", err)
		send(EventError, ErrorResponse{Error: errorBody(ctx, code, err.Error(), runID)})
		return
	}
	s.metrics.RunFinished(OutcomeSuccess, time.Since(started))
	s.remember(ctx, req, output)
	send(EventResult, RunResponse{RunID: runID, ConversationID: req.ConversationID, Output: output})
}

func (s *Server) start(ctx context.Context, input domain.RunInput, runID string, sink runtime.Sink) *engine.Handle {
	counted := runtime.SinkFunc(func(evt runtime.Event) {
		s.metrics.RecordProgressEvent(string(evt.Kind))
		runtime.Notify(sink, evt)
	})
	box, _ := s.runner.Load().(runnerBox)
	return box.Start(ctx, input,
		engine.WithRunID(runID),
		engine.WithSink(counted),
		engine.WithMaxConcurrency(s.maxConcurrency),
	)
}

// buildInput prepends stored history when the client sent only a query.
func (s *Server) buildInput(ctx context.Context, req RunRequest) (domain.RunInput, error) {
	if len(req.Messages) > 0 {
		return domain.RunInput{Messages: req.Messages}, nil
	}
	history, err := s.store.History(ctx, req.ConversationID, s.historyLimit)
	if err != nil {
		return domain.RunInput{}, err
	}
	if len(history) == 0 {
		return domain.RunInput{Query: req.Query}, nil
	}
	msgs := append(history, domain.ChatMessage{Role: domain.RoleUser, Text: req.Query})
	return domain.RunInput{Messages: msgs}, nil
}

// remember stores the exchange of a query-only request.
func (s *Server) remember(ctx context.Context, req RunRequest, output string) {
	if len(req.Messages) > 0 {
		return
	}
	err := s.store.Append(context.WithoutCancel(ctx), req.ConversationID,
		domain.ChatMessage{Role: domain.RoleUser, Text: req.Query},
		domain.ChatMessage{Role: domain.RoleAssistant, Text: output},
	)
	if err != nil {
		s.logger.Warn("failed to store conversation", "conversation_id", req.ConversationID, "error", err)
	}
}

func decodeRunRequest(r *http.Request) (RunRequest, error) {
	var req RunRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return req, fmt.Errorf("malformed request body: %w", err)
	}

	req.Query = strings.TrimSpace(req.Query)
	if len(req.Messages) == 0 && req.Query == "" {
		return req, errors.New("either query or messages is required")
	}
	if len(req.Messages) > 0 && strings.TrimSpace(domain.LatestUserText(domain.RunInput{Messages: req.Messages}.Conversation())) == "" {
		return req, errors.New("messages must contain a non-empty user message")
	}
	return req, nil
}

func wantsStream(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}
