package triage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/polisai/polis-triage/pkg/aggregate"
	"github.com/polisai/polis-triage/pkg/domain"
	"github.com/polisai/polis-triage/pkg/engine"
	"github.com/polisai/polis-triage/pkg/engine/runtime"
	"github.com/polisai/polis-triage/pkg/orchestrator"
)

// Executor identifiers of the fan-out workflow.
const (
	NodePlanner    = "planner"
	NodeParsePlan  = "parse_plan"
	NodeDispatch   = "dispatch_to_workers"
	NodeAggregate  = "aggregate_responses"
	workerNodeSuff = "_executor"
)

// DefaultFanOutName names the fan-out workflow.
const DefaultFanOutName = "triage-fanout"

// FanOutDeps are the collaborators of the fan-out workflow.
type FanOutDeps struct {
	Planner      Agent
	Orchestrator *orchestrator.Orchestrator
	Name         string
	Logger       *slog.Logger
}

// NewFanOutWorkflow builds the one-shot variant: the plan is broadcast to
// every registered worker, each worker answers the tasks addressed to it
// (or contributes an empty answer), and the answers are joined into one
// response. There is no review.
func NewFanOutWorkflow(deps FanOutDeps) (*engine.Workflow, error) {
	if deps.Planner.Model == nil || deps.Orchestrator == nil {
		return nil, fmt.Errorf("%w: fan-out workflow needs a planner and an orchestrator", domain.ErrConfigInvalid)
	}
	ids := deps.Orchestrator.Registry().IDs()
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no workers registered", domain.ErrConfigInvalid)
	}
	if deps.Name == "" {
		deps.Name = DefaultFanOutName
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	n := &nodes{deps: Deps{Planner: deps.Planner, Orchestrator: deps.Orchestrator, Name: deps.Name, Logger: deps.Logger}}

	storeQuery := engine.NewExecutor(NodeStoreQuery, n.storeQuery)
	planner := engine.NewExecutor(NodePlanner, n.userPlanning)
	parse := engine.NewExecutor(NodeParsePlan, n.routeUserPlanning)
	dispatch := engine.NewExecutor(NodeDispatch, n.dispatchPlan)
	reject := engine.NewExecutor(NodeReject, n.rejectQuery)
	join := engine.NewExecutor(NodeAggregate, func(_ context.Context, answers []any, wctx runtime.Context) error {
		out, err := aggregate.WorkerAnswers(answers)
		if err != nil {
			return err
		}
		wctx.YieldOutput(out)
		return nil
	})

	workers := make([]runtime.Executor, 0, len(ids))
	for _, id := range ids {
		workers = append(workers, engine.NewExecutor(string(id)+workerNodeSuff, n.filteredWorker(id)))
	}

	return engine.NewBuilder(deps.Name).
		WithLogger(deps.Logger).
		SetStart(storeQuery).
		AddEdge(storeQuery, planner).
		AddEdge(planner, parse).
		AddMultiSelectionEdgeGroup(parse, []runtime.Executor{dispatch, reject}, engine.Select(selectDispatchOrReject)).
		AddFanOutFanIn(dispatch, workers, join).
		Build()
}

// selectDispatchOrReject picks one of [dispatch, reject]. A plan with no
// tasks has nothing to dispatch and is rejected.
func selectDispatchOrReject(msg planned, targets []string) []string {
	if msg.Decision.ShouldReject || len(msg.Decision.Plan) == 0 {
		return []string{targets[1]}
	}
	return []string{targets[0]}
}

// dispatchPlan broadcasts a plan whose every task names a registered
// worker. A task no worker node would pick up fails the run instead of
// being dropped.
func (n *nodes) dispatchPlan(_ context.Context, msg planned, wctx runtime.Context) error {
	if err := msg.Decision.Plan.Validate(n.deps.Orchestrator.Registry().Known); err != nil {
		return fmt.Errorf("dispatch plan: %w", err)
	}
	wctx.SendMessage(msg)
	return nil
}

// filteredWorker answers the tasks addressed to id. A worker without tasks
// still answers, with an empty result, so the join completes.
func (n *nodes) filteredWorker(id domain.WorkerID) engine.HandlerFunc[planned] {
	return func(ctx context.Context, msg planned, wctx runtime.Context) error {
		var questions []string
		for _, task := range msg.Decision.Plan {
			if task.Target == id {
				questions = append(questions, task.Instruction)
			}
		}
		if len(questions) == 0 {
			wctx.SendMessage(domain.ExecutionResult{Target: id})
			return nil
		}

		combined := questions[0]
		if len(questions) > 1 {
			lines := make([]string, len(questions))
			for i, q := range questions {
				lines[i] = "- " + q
			}
			combined = strings.Join(lines, "\n")
		}

		results, err := n.deps.Orchestrator.RunPlan(ctx, domain.Plan{{Step: 1, Target: id, Instruction: combined}}, runtime.SinkFunc(wctx.Notify))
		if err != nil {
			return err
		}
		if len(results[1]) != 1 {
			return errors.New("worker produced no result")
		}
		wctx.SendMessage(results[1][0])
		return nil
	}
}
