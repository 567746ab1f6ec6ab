package aggregate

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/polisai/polis-triage/pkg/domain"
)

// SectionSeparator divides sections of the final answer.
const SectionSeparator = "\n\n---\n\n"

// NoResults stands in for an empty result set inside prompts.
const NoResults = "(No results)"

// Humanize renders a worker identifier as a heading, e.g. "log_analytics"
// becomes "Log Analytics".
func Humanize(id domain.WorkerID) string {
	return cases.Title(language.Und).String(strings.ReplaceAll(string(id), "_", " "))
}

// FinalOutput renders one "## Heading" section per result with non-empty
// output, joined by SectionSeparator. A non-empty note is appended as a
// trailing italic section.
func FinalOutput(results domain.StepResults, note string) string {
	var sections []string
	for _, res := range results.Ordered() {
		if res.Output == "" {
			continue
		}
		sections = append(sections, fmt.Sprintf("## %s\n%s", Humanize(res.Target), res.Output))
	}

	return AppendNote(strings.Join(sections, SectionSeparator), note)
}

// AppendNote adds note to out as a trailing italic section. An empty note
// leaves out unchanged.
func AppendNote(out, note string) string {
	if note == "" {
		return out
	}
	return out + SectionSeparator + "*Note: " + note + "*"
}

// ForcedNote explains a result accepted only because the retry budget ran
// out, listing what the reviewer still found missing.
func ForcedNote(missing []string) string {
	if len(missing) == 0 {
		return "Retry limit reached. The reviewer still considered the answer incomplete."
	}
	return "Retry limit reached. Still missing: " + strings.Join(missing, ", ")
}

// Summary returns the reviewer's summary when it has one and the formatted
// results otherwise.
func Summary(decision domain.ReviewDecision, results domain.StepResults) string {
	if decision.Summary != "" {
		return decision.Summary
	}
	return FinalOutput(results, "")
}

// ForPrompt lists every result with its step for the reviewer and the
// retry planner.
func ForPrompt(results domain.StepResults) string {
	return promptBlocks(results, "Response: ")
}

// ForReview is ForPrompt with the response starting on its own line, the
// layout the reviewer prompt uses.
func ForReview(results domain.StepResults) string {
	return promptBlocks(results, "Response:\n")
}

func promptBlocks(results domain.StepResults, responseLabel string) string {
	ordered := results.Ordered()
	if len(ordered) == 0 {
		return NoResults
	}
	parts := make([]string, 0, len(ordered))
	for _, res := range ordered {
		parts = append(parts, fmt.Sprintf("---\nStep %d | Agent: %s\nQuestion: %s\n%s%s\n---",
			res.Step, res.Target, res.Instruction, responseLabel, res.Output))
	}
	return strings.Join(parts, "\n")
}

// StepContext renders the results of the preceding step as the context block
// prefixed to a task. It is empty when prev is.
func StepContext(prev []domain.ExecutionResult) string {
	if len(prev) == 0 {
		return ""
	}
	parts := make([]string, 0, len(prev))
	for _, res := range prev {
		parts = append(parts, fmt.Sprintf("---\nAgent: %s\nQuestion: %s\nResponse: %s\n---",
			res.Target, res.Instruction, res.Output))
	}
	return "Previous step results:\n" + strings.Join(parts, "\n")
}

// TaskMessage prefixes instruction with a context block when there is one.
func TaskMessage(context, instruction string) string {
	if context == "" {
		return instruction
	}
	return context + "\n\nYour task: " + instruction
}
