package triage

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/polisai/polis-triage/pkg/aggregate"
	"github.com/polisai/polis-triage/pkg/domain"
)

func userModePrompt(history []domain.ChatMessage) string {
	lines := make([]string, 0, len(history))
	for _, msg := range history {
		lines = append(lines, fmt.Sprintf("[%s]: %s", msg.Role, msg.Text))
	}

	var b strings.Builder
	b.WriteString("## Mode: USER_MODE\n\n")
	b.WriteString("Analyze this conversation and create an execution plan.\n\n")
	b.WriteString("## Conversation History\n")
	b.WriteString(strings.Join(lines, "\n"))
	b.WriteString("\n\n## Instructions\n")
	b.WriteString("Output a JSON object with UserModeOutput schema:\n")
	b.WriteString("- should_reject: bool\n")
	b.WriteString("- reject_reason: str (if rejecting)\n")
	b.WriteString("- clarify: bool (if need clarification)\n")
	b.WriteString("- plan: list of {step, agent, question}\n")
	b.WriteString("- plan_reason: str\n\n")
	b.WriteString("Remember: same step number = parallel, different step numbers = sequential.")
	return b.String()
}

func reviewModePrompt(req retryRequest) string {
	missing := "none"
	if len(req.Feedback.MissingAspects) > 0 {
		missing = strings.Join(req.Feedback.MissingAspects, "; ")
	}

	var b strings.Builder
	b.WriteString("## Mode: REVIEW_MODE\n\n")
	b.WriteString("The review agent found the following gaps in the response.\n\n")
	b.WriteString("## Original Query\n")
	b.WriteString(req.Query)
	b.WriteString("\n\n## Previous Execution Results\n")
	b.WriteString(aggregate.ForPrompt(req.Results))
	b.WriteString("\n\n## Review Feedback\n")
	fmt.Fprintf(&b, "- Missing aspects: %s\n", missing)
	fmt.Fprintf(&b, "- Suggested approach: %s\n", req.Feedback.SuggestedApproach)
	fmt.Fprintf(&b, "- Confidence: %s\n\n", strconv.FormatFloat(req.Feedback.Confidence, 'f', -1, 64))
	b.WriteString("## Instructions\n")
	b.WriteString("Decide whether to accept or reject this review feedback.\n")
	b.WriteString("Output a JSON object with ReviewModeOutput schema:\n")
	b.WriteString("- accept_review: bool\n")
	b.WriteString("- new_plan: list of {step, agent, question} (if accepting)\n")
	b.WriteString("- rejection_reason: str (if rejecting)\n\n")
	b.WriteString("Be critical - only accept if the gap is genuine and addressable.")
	return b.String()
}

func reviewPrompt(req reviewRequest, retry domain.RetryState) string {
	attempt := "the first attempt"
	if req.IsRetry {
		attempt = "a retry attempt"
	}

	var b strings.Builder
	b.WriteString("## Review Request\n\n")
	b.WriteString("## Original User Query\n")
	b.WriteString(req.Query)
	b.WriteString("\n\n## Execution Results\n")
	b.WriteString(aggregate.ForReview(req.Results))
	b.WriteString("\n\n## Context\n")
	fmt.Fprintf(&b, "- This is %s\n", attempt)
	fmt.Fprintf(&b, "- Retry count: %d\n", retry.Count)
	fmt.Fprintf(&b, "- Maximum retries allowed: %d\n\n", domain.MaxRetries)
	b.WriteString("## Instructions\n")
	b.WriteString("Evaluate whether the execution results fully answer the user's query.\n")
	b.WriteString("Output JSON with ReviewOutput schema:\n")
	b.WriteString("- is_complete: bool\n")
	b.WriteString("- summary: str (if complete, provide final user-facing summary)\n")
	b.WriteString("- missing_aspects: list[str] (if incomplete)\n")
	b.WriteString("- suggested_approach: str (if incomplete, how to address gaps)\n")
	b.WriteString("- confidence: float (0.0 to 1.0)")
	if req.IsRetry {
		b.WriteString("\n\nIMPORTANT: This is a retry. Accept the result unless there's a critical gap.")
	}
	if retry.Exhausted() {
		b.WriteString("\n\nIMPORTANT: Maximum retries reached. Accept the result.")
	}
	return b.String()
}

func clarifyPrompt(query string) string {
	return fmt.Sprintf(`The user asked: "%s"

This query is related to data operations but is unclear or ambiguous.
Please provide a polite clarification request.

Output JSON with ClarifyOutput schema:
- clarification_request: str
- possible_interpretations: list[str]`, query)
}
