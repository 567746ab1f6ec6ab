package domain

// MaxRetries is the number of retry cycles a single run may enter.
const MaxRetries = 1

// ReviewDecision is the reviewer's verdict on the results gathered so far.
type ReviewDecision struct {
	IsComplete        bool     `json:"is_complete"`
	Summary           string   `json:"summary"`
	MissingAspects    []string `json:"missing_aspects"`
	SuggestedApproach string   `json:"suggested_approach"`
	Confidence        float64  `json:"confidence"`
}

// RetryState tracks how much of the retry budget a run has used.
type RetryState struct {
	Count   int  `json:"retry_count"`
	IsRetry bool `json:"is_retry"`
}

// Exhausted reports whether no further retry cycle may be entered.
func (s RetryState) Exhausted() bool {
	return s.Count >= MaxRetries
}

// Advance consumes one retry. When the budget is already spent it returns
// the state unchanged and false.
func (s RetryState) Advance() (RetryState, bool) {
	if s.Exhausted() {
		return s, false
	}
	return RetryState{Count: s.Count + 1, IsRetry: true}, true
}

// PlanningDecision is the planner's structured answer to a conversation.
type PlanningDecision struct {
	ShouldReject bool   `json:"should_reject"`
	RejectReason string `json:"reject_reason"`
	Clarify      bool   `json:"clarify"`
	Plan         Plan   `json:"plan"`
	PlanReason   string `json:"plan_reason"`
}

// PlanningRoute is where a planning decision sends the run.
type PlanningRoute string

const (
	RouteReject  PlanningRoute = "reject"
	RouteClarify PlanningRoute = "clarify"
	RouteExecute PlanningRoute = "execute"
)

// Route applies the planning routing rule.
func (d PlanningDecision) Route() PlanningRoute {
	if d.ShouldReject {
		if d.Clarify {
			return RouteClarify
		}
		return RouteReject
	}
	return RouteExecute
}

// RetryDecision is the planner's answer to review feedback.
type RetryDecision struct {
	AcceptReview    bool   `json:"accept_review"`
	NewPlan         Plan   `json:"new_plan"`
	RejectionReason string `json:"rejection_reason"`
}

// ShouldExecute reports whether the retry decision leads to another execute
// phase.
func (d RetryDecision) ShouldExecute() bool {
	return d.AcceptReview && len(d.NewPlan) > 0
}

// Clarification is the clarifier's structured answer.
type Clarification struct {
	Request         string   `json:"clarification_request"`
	Interpretations []string `json:"possible_interpretations"`
}
