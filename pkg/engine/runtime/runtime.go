// Package runtime defines the core contracts shared by the workflow engine and
// the executors wired onto it, keeping business logic decoupled from routing
// mechanics.
package runtime

import (
	"context"
	"log/slog"
)

// Outcome captures the classification of one executor activation.
type Outcome string

const (
	// OutcomeSuccess indicates the executor returned without error.
	OutcomeSuccess Outcome = "success"
	// OutcomeYield indicates the executor produced the run's terminal output.
	OutcomeYield Outcome = "yield"
	// OutcomeFailure indicates the executor failed without a more specific classification.
	OutcomeFailure Outcome = "failure"
	// OutcomeTimeout indicates a collaborator call exceeded its deadline.
	OutcomeTimeout Outcome = "timeout"
	// OutcomeCanceled indicates the run context was canceled.
	OutcomeCanceled Outcome = "canceled"
)

// Executor is one node of a workflow graph. Executors never address other
// nodes directly: they emit messages through the Context and the engine
// routes them along declared edges.
type Executor interface {
	ID() string
	Handle(ctx context.Context, msg any, wctx Context) error
}

// Context is what an executor sees during a single activation.
type Context interface {
	// RunID identifies the run this activation belongs to.
	RunID() string
	// State is the run's shared key/value store.
	State() *State
	// SendMessage queues msg for routing once the activation returns.
	SendMessage(msg any)
	// YieldOutput ends the run with text. Only the first call wins and
	// nothing is routed afterwards.
	YieldOutput(text string)
	// Notify forwards evt to the run's progress sink, if any.
	Notify(evt Event)
	// Logger is scoped to the run and executor.
	Logger() *slog.Logger
}
