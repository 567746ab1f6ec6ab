package aggregate

import (
	"fmt"
	"strings"

	"github.com/polisai/polis-triage/pkg/domain"
)

// MaxInterpretations bounds the interpretations shown in a clarification.
const MaxInterpretations = 4

// Rejection renders the out-of-domain answer. capabilities lists what the
// registered workers can do, one bullet each.
func Rejection(reason string, capabilities []string) string {
	var b strings.Builder
	b.WriteString("I don't have knowledge about that topic.")
	if reason != "" {
		b.WriteString(" ")
		b.WriteString(reason)
	}
	b.WriteString("\n\nI can only help with:")
	for _, c := range capabilities {
		if c == "" {
			continue
		}
		b.WriteString("\n- ")
		b.WriteString(c)
	}
	return b.String()
}

// Clarification renders a clarification request followed by its candidate
// interpretations.
func Clarification(c domain.Clarification) string {
	interpretations := c.Interpretations
	if len(interpretations) > MaxInterpretations {
		interpretations = interpretations[:MaxInterpretations]
	}
	if len(interpretations) == 0 {
		return c.Request
	}
	lines := make([]string, 0, len(interpretations))
	for _, item := range interpretations {
		lines = append(lines, "  - "+item)
	}
	return fmt.Sprintf("%s\n\nPossible interpretations:\n%s", c.Request, strings.Join(lines, "\n"))
}

// WorkerAnswers formats the fan-in of per-worker answers, skipping workers
// that had nothing to say. An answer that is not an ExecutionResult is an
// AggregationError.
func WorkerAnswers(answers []any) (string, error) {
	results := make([]domain.ExecutionResult, 0, len(answers))
	for i, a := range answers {
		res, ok := a.(domain.ExecutionResult)
		if !ok {
			return "", &domain.AggregationError{Reason: fmt.Sprintf("answer %d has type %T", i, a)}
		}
		results = append(results, res)
	}
	return FinalOutput(domain.StepResults{1: results}, ""), nil
}
