package triage

import "github.com/polisai/polis-triage/pkg/domain"

// Shared state keys.
const (
	KeyConversation    = "conversation_history"
	KeyOriginalQuery   = "original_query"
	KeyRetryState      = "retry_state"
	KeyCurrentPlan     = "current_plan"
	KeyExecutionResult = "execution_results"
	KeyReviewDecision  = "review_decision"
)

// Executor identifiers.
const (
	NodeStoreQuery      = "store_query"
	NodeUserPlanning    = "user_planning"
	NodeRouteUser       = "route_user_planning"
	NodeReject          = "reject_query"
	NodeClarify         = "clarify"
	NodeOrchestrator    = "orchestrator"
	NodeReview          = "review"
	NodeRouteReview     = "route_review"
	NodeFinalAggregator = "final_aggregator"
	NodeRetryBridge     = "retry_bridge"
	NodeRetryPlanning   = "retry_planning"
	NodeOutputExisting  = "output_existing"
)

// planningRequest carries the conversation to the planner.
type planningRequest struct {
	History []domain.ChatMessage
	Query   string
}

// planned is the planner's decision on a conversation.
type planned struct {
	Decision domain.PlanningDecision
	Query    string
}

// reviewRequest asks the reviewer to assess results.
type reviewRequest struct {
	Query   string
	Results domain.StepResults
	IsRetry bool
}

// reviewed is the reviewer's decision after the retry budget was applied.
type reviewed struct {
	Decision domain.ReviewDecision
	Query    string
	Results  domain.StepResults
	// Forced is set when an incomplete review was accepted because the
	// retry budget was spent.
	Forced bool
}

// retryRequest asks the planner to respond to review feedback.
type retryRequest struct {
	Feedback domain.ReviewDecision
	Results  domain.StepResults
	Query    string
}

// retryPlanned is the planner's answer to review feedback.
type retryPlanned struct {
	Decision domain.RetryDecision
}
