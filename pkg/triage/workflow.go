package triage

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/polisai/polis-triage/pkg/domain"
	"github.com/polisai/polis-triage/pkg/engine"
	"github.com/polisai/polis-triage/pkg/engine/runtime"
	"github.com/polisai/polis-triage/pkg/inference"
	"github.com/polisai/polis-triage/pkg/orchestrator"
)

// DefaultWorkflowName names the review-loop workflow.
const DefaultWorkflowName = "triage"

// Agent is a model collaborator primed with its instructions.
type Agent struct {
	Model        inference.Model
	Instructions string
}

func (a Agent) prompt(user string) inference.Prompt {
	return inference.Prompt{System: a.Instructions, User: user}
}

// Deps are the collaborators a triage workflow runs against.
type Deps struct {
	// Planner answers the user-mode planning prompt.
	Planner Agent
	// RetryPlanner answers review feedback. It defaults to Planner.
	RetryPlanner Agent
	Reviewer     Agent
	Clarifier    Agent
	Orchestrator *orchestrator.Orchestrator

	Name           string
	MaxActivations int
	Logger         *slog.Logger
}

func (d *Deps) normalize() error {
	var errs []error
	if d.Planner.Model == nil {
		errs = append(errs, errors.New("planner model is required"))
	}
	if d.RetryPlanner.Model == nil {
		d.RetryPlanner = d.Planner
	}
	if d.Reviewer.Model == nil {
		errs = append(errs, errors.New("reviewer model is required"))
	}
	if d.Clarifier.Model == nil {
		errs = append(errs, errors.New("clarifier model is required"))
	}
	if d.Orchestrator == nil {
		errs = append(errs, errors.New("orchestrator is required"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", domain.ErrConfigInvalid, errors.Join(errs...))
	}
	if d.Name == "" {
		d.Name = DefaultWorkflowName
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return nil
}

// NewWorkflow builds the plan, execute, review, and retry workflow. Its
// input is a domain.RunInput.
func NewWorkflow(deps Deps) (*engine.Workflow, error) {
	if err := deps.normalize(); err != nil {
		return nil, err
	}
	n := &nodes{deps: deps}

	storeQuery := engine.NewExecutor(NodeStoreQuery, n.storeQuery)
	userPlanning := engine.NewExecutor(NodeUserPlanning, n.userPlanning)
	routeUser := engine.NewExecutor(NodeRouteUser, n.routeUserPlanning)
	reject := engine.NewExecutor(NodeReject, n.rejectQuery)
	clarify := engine.NewExecutor(NodeClarify, n.clarify)
	orch := &orchestratorNode{nodes: n}
	review := engine.NewExecutor(NodeReview, n.review)
	routeReview := engine.NewExecutor(NodeRouteReview, n.routeReview)
	final := engine.NewExecutor(NodeFinalAggregator, n.finalAggregate)
	bridge := engine.NewExecutor(NodeRetryBridge, n.retryBridge)
	retryPlanning := engine.NewExecutor(NodeRetryPlanning, n.retryPlanning)
	outputExisting := engine.NewExecutor(NodeOutputExisting, n.outputExisting)

	b := engine.NewBuilder(deps.Name).WithLogger(deps.Logger)
	if deps.MaxActivations > 0 {
		b = b.WithMaxActivations(deps.MaxActivations)
	}
	return b.
		SetStart(storeQuery).
		AddEdge(storeQuery, userPlanning).
		AddEdge(userPlanning, routeUser).
		AddMultiSelectionEdgeGroup(routeUser,
			[]runtime.Executor{reject, clarify, orch},
			engine.Select(selectPlanningPath)).
		AddEdge(orch, review).
		AddEdge(review, routeReview).
		AddMultiSelectionEdgeGroup(routeReview,
			[]runtime.Executor{final, bridge},
			engine.Select(selectReviewOutcome)).
		AddEdge(bridge, retryPlanning).
		AddMultiSelectionEdgeGroup(retryPlanning,
			[]runtime.Executor{orch, outputExisting},
			engine.Select(selectRetryOutcome)).
		Build()
}

// selectPlanningPath picks one of [reject, clarify, orchestrator].
func selectPlanningPath(msg planned, targets []string) []string {
	switch msg.Decision.Route() {
	case domain.RouteReject:
		return []string{targets[0]}
	case domain.RouteClarify:
		return []string{targets[1]}
	default:
		return []string{targets[2]}
	}
}

// selectReviewOutcome picks one of [final_aggregator, retry_bridge].
func selectReviewOutcome(msg reviewed, targets []string) []string {
	if msg.Decision.IsComplete {
		return []string{targets[0]}
	}
	return []string{targets[1]}
}

// selectRetryOutcome picks one of [orchestrator, output_existing].
func selectRetryOutcome(msg retryPlanned, targets []string) []string {
	if msg.Decision.ShouldExecute() {
		return []string{targets[0]}
	}
	return []string{targets[1]}
}
