package triage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"github.com/polisai/polis-triage/pkg/aggregate"
	"github.com/polisai/polis-triage/pkg/domain"
	"github.com/polisai/polis-triage/pkg/engine"
	"github.com/polisai/polis-triage/pkg/engine/runtime"
	"github.com/polisai/polis-triage/pkg/inference"
	"github.com/polisai/polis-triage/pkg/telemetry"
)

type nodes struct {
	deps Deps
}

func (n *nodes) storeQuery(_ context.Context, in domain.RunInput, wctx runtime.Context) error {
	history := in.Conversation()
	query := domain.LatestUserText(history)
	if strings.TrimSpace(query) == "" {
		return &domain.ValidationError{Shape: "run_input", Err: errors.New("a user query is required")}
	}

	state := wctx.State()
	state.Set(KeyConversation, history)
	state.Set(KeyOriginalQuery, query)
	state.Set(KeyRetryState, domain.RetryState{})

	wctx.SendMessage(planningRequest{History: history, Query: query})
	return nil
}

func (n *nodes) userPlanning(ctx context.Context, req planningRequest, wctx runtime.Context) error {
	wctx.Notify(runtime.Event{Kind: runtime.EventTaskStarted, Message: "[planner] agent invoked"})
	decision, err := inference.Infer[domain.PlanningDecision](ctx, n.deps.Planner.Model,
		n.deps.Planner.prompt(userModePrompt(req.History)), inference.PlanningShape)
	if err != nil {
		return fmt.Errorf("plan request: %w", err)
	}
	wctx.SendMessage(planned{Decision: decision, Query: req.Query})
	return nil
}

func (n *nodes) routeUserPlanning(_ context.Context, msg planned, wctx runtime.Context) error {
	wctx.State().Set(KeyCurrentPlan, msg.Decision.Plan)
	wctx.Logger().Info("planning decision",
		"route", msg.Decision.Route(),
		"tasks", len(msg.Decision.Plan),
		"reason", msg.Decision.PlanReason,
	)
	wctx.SendMessage(msg)
	return nil
}

func (n *nodes) rejectQuery(_ context.Context, msg planned, wctx runtime.Context) error {
	capabilities := n.deps.Orchestrator.Registry().Descriptions()
	wctx.YieldOutput(aggregate.Rejection(msg.Decision.RejectReason, capabilities))
	return nil
}

func (n *nodes) clarify(ctx context.Context, msg planned, wctx runtime.Context) error {
	wctx.Notify(runtime.Event{Kind: runtime.EventTaskStarted, Message: "[clarifier] agent invoked"})
	c, err := inference.Infer[domain.Clarification](ctx, n.deps.Clarifier.Model,
		n.deps.Clarifier.prompt(clarifyPrompt(msg.Query)), inference.ClarifyShape)
	if err != nil {
		return fmt.Errorf("clarification request: %w", err)
	}
	wctx.YieldOutput(aggregate.Clarification(c))
	return nil
}

// orchestratorNode accepts both the initial plan and an accepted retry plan.
type orchestratorNode struct {
	*nodes
}

func (o *orchestratorNode) ID() string { return NodeOrchestrator }

func (o *orchestratorNode) Handle(ctx context.Context, msg any, wctx runtime.Context) error {
	sink := runtime.SinkFunc(wctx.Notify)
	state := wctx.State()
	query, _ := runtime.Lookup[string](state, KeyOriginalQuery)

	switch m := msg.(type) {
	case planned:
		results, err := o.deps.Orchestrator.RunPlan(ctx, m.Decision.Plan, sink)
		if err != nil {
			return err
		}
		state.Set(KeyExecutionResult, results)
		wctx.SendMessage(reviewRequest{Query: m.Query, Results: results})
		return nil

	case retryPlanned:
		existing, _ := runtime.Lookup[domain.StepResults](state, KeyExecutionResult)
		merged, err := o.deps.Orchestrator.RunRetryPlan(ctx, m.Decision.NewPlan, existing, sink)
		if err != nil {
			return err
		}
		state.Set(KeyCurrentPlan, m.Decision.NewPlan)
		state.Set(KeyExecutionResult, merged)
		wctx.SendMessage(reviewRequest{Query: query, Results: merged, IsRetry: true})
		return nil

	default:
		return fmt.Errorf("%w: executor %q cannot accept %T", engine.ErrUnexpectedMessage, NodeOrchestrator, msg)
	}
}

func (n *nodes) review(ctx context.Context, req reviewRequest, wctx runtime.Context) error {
	retry, _ := runtime.Lookup[domain.RetryState](wctx.State(), KeyRetryState)
	wctx.Notify(runtime.Event{Kind: runtime.EventTaskStarted, Message: "[reviewer] agent invoked"})

	decision, err := inference.Infer[domain.ReviewDecision](ctx, n.deps.Reviewer.Model,
		n.deps.Reviewer.prompt(reviewPrompt(req, retry)), inference.ReviewShape)
	if err != nil {
		return fmt.Errorf("review request: %w", err)
	}
	wctx.SendMessage(reviewed{Decision: decision, Query: req.Query, Results: req.Results})
	return nil
}

// routeReview applies the retry budget. An incomplete review either spends
// the budget or, once it is spent, is accepted as complete.
func (n *nodes) routeReview(ctx context.Context, msg reviewed, wctx runtime.Context) error {
	state := wctx.State()
	retry, _ := runtime.Lookup[domain.RetryState](state, KeyRetryState)

	if !msg.Decision.IsComplete {
		if next, ok := retry.Advance(); ok {
			retry = next
			state.Set(KeyRetryState, retry)
			telemetry.RecordRetryCycle(ctx, n.deps.Name, false)
			wctx.Logger().Info("review incomplete; entering retry cycle", "retry_count", retry.Count)
		} else {
			msg.Decision.IsComplete = true
			msg.Forced = true
			telemetry.RecordRetryCycle(ctx, n.deps.Name, true)
			wctx.Logger().Warn("review incomplete after retry budget spent; accepting results",
				"retry_count", retry.Count,
				"missing_aspects", msg.Decision.MissingAspects,
			)
		}
	}

	state.Set(KeyReviewDecision, msg.Decision)
	telemetry.RecordReviewEvent(trace.SpanFromContext(ctx), msg.Decision.IsComplete, msg.Forced,
		msg.Decision.Confidence, retry.Count)
	wctx.SendMessage(msg)
	return nil
}

func (n *nodes) finalAggregate(_ context.Context, msg reviewed, wctx runtime.Context) error {
	out := aggregate.Summary(msg.Decision, msg.Results)
	if msg.Forced {
		out = aggregate.AppendNote(out, aggregate.ForcedNote(msg.Decision.MissingAspects))
	}
	wctx.YieldOutput(out)
	return nil
}

func (n *nodes) retryBridge(_ context.Context, msg reviewed, wctx runtime.Context) error {
	wctx.SendMessage(retryRequest{Feedback: msg.Decision, Results: msg.Results, Query: msg.Query})
	return nil
}

func (n *nodes) retryPlanning(ctx context.Context, req retryRequest, wctx runtime.Context) error {
	wctx.Notify(runtime.Event{Kind: runtime.EventTaskStarted, Message: "[planner] agent invoked"})
	decision, err := inference.Infer[domain.RetryDecision](ctx, n.deps.RetryPlanner.Model,
		n.deps.RetryPlanner.prompt(reviewModePrompt(req)), inference.RetryShape)
	if err != nil {
		return fmt.Errorf("retry plan request: %w", err)
	}
	wctx.Logger().Info("retry planning decision",
		"accept_review", decision.AcceptReview,
		"tasks", len(decision.NewPlan),
	)
	wctx.SendMessage(retryPlanned{Decision: decision})
	return nil
}

func (n *nodes) outputExisting(_ context.Context, msg retryPlanned, wctx runtime.Context) error {
	results, _ := runtime.Lookup[domain.StepResults](wctx.State(), KeyExecutionResult)
	wctx.YieldOutput(aggregate.FinalOutput(results, msg.Decision.RejectionReason))
	return nil
}
