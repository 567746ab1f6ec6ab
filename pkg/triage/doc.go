// Package triage wires the triage state machine onto the workflow engine.
//
// A run stores the conversation, asks the planner for a decision, and then
// rejects, asks for clarification, or executes the plan. Executed results
// are reviewed; an incomplete review may send the run through one retry
// cycle in which the planner proposes additional work. The retry budget is
// enforced by the review router itself, whatever the reviewer answers.
//
// Topology of NewWorkflow:
//
//	store_query -> user_planning -> route_user_planning
//	route_user_planning => {reject_query | clarify | orchestrator}
//	orchestrator -> review -> route_review
//	route_review => {final_aggregator | retry_bridge}
//	retry_bridge -> retry_planning => {orchestrator | output_existing}
//
// NewFanOutWorkflow builds the simpler one-shot variant that dispatches a
// plan to every worker at once and joins their answers.
package triage
