package inference

import (
	"fmt"
	"strings"

	"github.com/polisai/polis-triage/pkg/domain"
)

func planItemsSchema() string {
	workers := domain.KnownWorkers()
	quoted := make([]string, len(workers))
	for i, w := range workers {
		quoted[i] = fmt.Sprintf("%q", w)
	}
	return fmt.Sprintf(`{
	"type": "array",
	"items": {
		"type": "object",
		"required": ["step", "agent", "question"],
		"properties": {
			"step": {"type": "integer", "minimum": 1},
			"agent": {"enum": [%s]},
			"question": {"type": "string", "minLength": 1}
		}
	}
}`, strings.Join(quoted, ", "))
}

// PlanningShape is the planner's answer to a conversation.
var PlanningShape = MustShape("planning_decision", fmt.Sprintf(`{
	"type": "object",
	"properties": {
		"should_reject": {"type": "boolean"},
		"reject_reason": {"type": "string"},
		"clarify": {"type": "boolean"},
		"plan": %s,
		"plan_reason": {"type": "string"}
	}
}`, planItemsSchema()))

// RetryShape is the planner's answer to review feedback.
var RetryShape = MustShape("retry_decision", fmt.Sprintf(`{
	"type": "object",
	"required": ["accept_review"],
	"properties": {
		"accept_review": {"type": "boolean"},
		"new_plan": %s,
		"rejection_reason": {"type": "string"}
	}
}`, planItemsSchema()))

// ReviewShape is the reviewer's verdict.
var ReviewShape = MustShape("review_decision", `{
	"type": "object",
	"required": ["is_complete"],
	"properties": {
		"is_complete": {"type": "boolean"},
		"summary": {"type": "string"},
		"missing_aspects": {"type": "array", "items": {"type": "string"}},
		"suggested_approach": {"type": "string"},
		"confidence": {"type": "number", "minimum": 0, "maximum": 1}
	}
}`)

// ClarifyShape is the clarifier's answer.
var ClarifyShape = MustShape("clarification", `{
	"type": "object",
	"required": ["clarification_request"],
	"properties": {
		"clarification_request": {"type": "string", "minLength": 1},
		"possible_interpretations": {"type": "array", "items": {"type": "string"}}
	}
}`)
