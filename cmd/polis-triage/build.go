package main

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tmc/langchaingo/llms"

	"github.com/polisai/polis-triage/internal/governance"
	"github.com/polisai/polis-triage/pkg/config"
	"github.com/polisai/polis-triage/pkg/domain"
	"github.com/polisai/polis-triage/pkg/engine"
	"github.com/polisai/polis-triage/pkg/inference"
	"github.com/polisai/polis-triage/pkg/orchestrator"
	"github.com/polisai/polis-triage/pkg/telemetry"
	"github.com/polisai/polis-triage/pkg/triage"
	"github.com/polisai/polis-triage/pkg/worker"
)

// Workflow variants selectable from the CLI.
const (
	variantReview = "review"
	variantFanOut = "fanout"
)

// llmFactory returns the provider client for a model id. An empty id means
// the configured default model.
type llmFactory func(modelID string) (llms.Model, error)

// providerFactory builds langchaingo clients from the model section, reusing
// one client per model id.
func providerFactory(mc config.ModelConfig) llmFactory {
	var mu sync.Mutex
	clients := make(map[string]llms.Model)
	return func(modelID string) (llms.Model, error) {
		if modelID == "" {
			modelID = mc.Model
		}
		mu.Lock()
		defer mu.Unlock()
		if llm, ok := clients[modelID]; ok {
			return llm, nil
		}
		llm, err := inference.NewProvider(inference.ProviderConfig{
			Provider: mc.Provider,
			Model:    modelID,
			BaseURL:  mc.BaseURL,
			APIKey:   mc.APIKey(),
		})
		if err != nil {
			return nil, err
		}
		clients[modelID] = llm
		return llm, nil
	}
}

// builder assembles a workflow from configuration. It is rerun when agent
// definitions change.
type builder struct {
	cfg     *config.Config
	newLLM  llmFactory
	variant string
	logger  *slog.Logger
}

func (b *builder) build() (*engine.Workflow, error) {
	agents, err := config.LoadAgents(b.cfg.Agents.Dir)
	if err != nil {
		return nil, err
	}

	retry := governance.DefaultRetryConfig()
	retry.MaxRetries = b.cfg.Engine.TaskRetries

	modelPolicy := governance.NewCallPolicy(governance.CallPolicyConfig{
		Timeout: b.cfg.Engine.ModelTimeout,
		Retry:   retry,
		Logger:  b.logger,
	})

	registry, limits, err := b.registry(agents)
	if err != nil {
		return nil, err
	}

	taskPolicy := governance.NewCallPolicy(governance.CallPolicyConfig{
		Timeout: b.cfg.Engine.TaskTimeout,
		Retry:   retry,
		Breakers: governance.NewCircuitBreakerManager(governance.CircuitBreakerConfig{
			MaxFailures:    b.cfg.Engine.BreakerFailures,
			Cooldown:       b.cfg.Engine.BreakerCooldown,
			HalfOpenProbes: 1,
		}),
		Limiter: governance.NewRateLimiter(limits),
		Logger:  b.logger,
	})

	name := triage.DefaultWorkflowName
	if b.variant == variantFanOut {
		name = triage.DefaultFanOutName
	}

	orch := orchestrator.New(orchestrator.Config{
		Registry:       registry,
		Policy:         taskPolicy,
		MaxConcurrency: b.cfg.Engine.MaxConcurrency,
		Workflow:       name,
		Redactions:     telemetry.DefaultRedactions,
		Logger:         b.logger,
	})

	agent := func(key string) (triage.Agent, error) {
		def, err := agents.Get(key)
		if err != nil {
			return triage.Agent{}, err
		}
		llm, err := b.newLLM(def.Model.ModelID)
		if err != nil {
			return triage.Agent{}, fmt.Errorf("agent %q: %w", key, err)
		}
		return triage.Agent{
			Model:        inference.Governed(inference.JSONModel(llm), modelPolicy, key),
			Instructions: def.Instructions,
		}, nil
	}

	planner, err := agent(config.AgentPlanner)
	if err != nil {
		return nil, err
	}

	switch b.variant {
	case variantFanOut:
		return triage.NewFanOutWorkflow(triage.FanOutDeps{
			Planner:      planner,
			Orchestrator: orch,
			Logger:       b.logger,
		})
	case variantReview, "":
	default:
		return nil, fmt.Errorf("%w: unknown workflow variant %q", domain.ErrConfigInvalid, b.variant)
	}

	reviewer, err := agent(config.AgentReviewer)
	if err != nil {
		return nil, err
	}
	clarifier, err := agent(config.AgentClarifier)
	if err != nil {
		return nil, err
	}

	return triage.NewWorkflow(triage.Deps{
		Planner:        planner,
		Reviewer:       reviewer,
		Clarifier:      clarifier,
		Orchestrator:   orch,
		MaxActivations: b.cfg.Engine.MaxActivations,
		Logger:         b.logger,
	})
}

// registry registers the configured workers, or every known worker with an
// agent definition when none are configured.
func (b *builder) registry(agents config.Agents) (*worker.Registry, map[string]governance.RateLimiterConfig, error) {
	workers := b.cfg.Workers
	if len(workers) == 0 {
		for _, id := range domain.KnownWorkers() {
			if _, ok := agents[string(id)]; ok {
				workers = append(workers, config.WorkerConfig{ID: string(id), Kind: config.WorkerKindLLM, Agent: string(id)})
			}
		}
	}
	if len(workers) == 0 {
		return nil, nil, fmt.Errorf("%w: no workers configured and no worker agent definitions found in %s", domain.ErrConfigInvalid, b.cfg.Agents.Dir)
	}

	registry := worker.NewRegistry()
	limits := make(map[string]governance.RateLimiterConfig)
	var errs []error
	for _, wc := range workers {
		id, err := domain.ParseWorkerID(wc.ID)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		description := wc.Description
		var w worker.Worker
		switch wc.Kind {
		case config.WorkerKindHTTP:
			w = worker.NewHTTPWorker(wc.Endpoint, nil, b.logger)
		default:
			def, err := agents.Get(wc.Agent)
			if err != nil {
				errs = append(errs, fmt.Errorf("worker %q: %w", wc.ID, err))
				continue
			}
			llm, err := b.newLLM(def.Model.ModelID)
			if err != nil {
				errs = append(errs, fmt.Errorf("worker %q: %w", wc.ID, err))
				continue
			}
			w = worker.NewLLMWorker(inference.NewLangChainModel(llm), def.Instructions)
			if description == "" {
				description = def.Description
			}
		}

		if err := registry.Register(id, description, w); err != nil {
			errs = append(errs, err)
			continue
		}
		if rl := wc.RateLimit; rl != nil {
			limits[wc.ID] = governance.RateLimiterConfig{RequestsPerSecond: rl.RequestsPerSecond, BurstSize: rl.Burst}
		}
	}
	if len(errs) > 0 {
		return nil, nil, errors.Join(errs...)
	}
	return registry, limits, nil
}
