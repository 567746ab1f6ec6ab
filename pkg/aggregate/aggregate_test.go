package aggregate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/polisai/polis-triage/pkg/domain"
)

func TestHumanize(t *testing.T) {
	assert.Equal(t, "Log Analytics", Humanize(domain.WorkerLogAnalytics))
	assert.Equal(t, "Service Health", Humanize(domain.WorkerServiceHealth))
	assert.Equal(t, "Servicenow", Humanize(domain.WorkerServiceNow))
}

func TestFinalOutputOrdersByStepAndSkipsEmpty(t *testing.T) {
	results := domain.StepResults{
		2: {{Target: domain.WorkerServiceHealth, Instruction: "health", Output: "all green"}},
		1: {
			{Target: domain.WorkerServiceNow, Instruction: "incidents", Output: "2 open"},
			{Target: domain.WorkerLogAnalytics, Instruction: "logs", Output: ""},
		},
	}

	got := FinalOutput(results, "")
	assert.Equal(t, "## Servicenow\n2 open\n\n---\n\n## Service Health\nall green", got)
}

func TestFinalOutputAppendsNote(t *testing.T) {
	results := domain.StepResults{1: {{Target: domain.WorkerServiceNow, Output: "done"}}}

	got := FinalOutput(results, "gap is not addressable")
	assert.Equal(t, "## Servicenow\ndone\n\n---\n\n*Note: gap is not addressable*", got)
}

func TestForcedNote(t *testing.T) {
	assert.Equal(t, "Retry limit reached. Still missing: pipeline logs, owner",
		ForcedNote([]string{"pipeline logs", "owner"}))
	assert.Equal(t, "Retry limit reached. The reviewer still considered the answer incomplete.", ForcedNote(nil))

	assert.Equal(t, "body", AppendNote("body", ""))
	assert.Equal(t, "summary\n\n---\n\n*Note: Retry limit reached. Still missing: owner*",
		AppendNote("summary", ForcedNote([]string{"owner"})))
}

func TestSummaryPrefersReviewerSummary(t *testing.T) {
	results := domain.StepResults{1: {{Target: domain.WorkerServiceNow, Output: "raw"}}}

	assert.Equal(t, "done", Summary(domain.ReviewDecision{IsComplete: true, Summary: "done"}, results))
	assert.Equal(t, "## Servicenow\nraw", Summary(domain.ReviewDecision{IsComplete: true}, results))
}

func TestPromptFormats(t *testing.T) {
	results := domain.StepResults{
		1: {{Target: domain.WorkerServiceNow, Instruction: "list incidents", Output: "INC1"}},
		3: {{Target: domain.WorkerLogAnalytics, Instruction: "check logs", Output: "quiet"}},
	}

	assert.Equal(t,
		"---\nStep 1 | Agent: servicenow\nQuestion: list incidents\nResponse: INC1\n---\n"+
			"---\nStep 3 | Agent: log_analytics\nQuestion: check logs\nResponse: quiet\n---",
		ForPrompt(results))
	assert.Equal(t,
		"---\nStep 1 | Agent: servicenow\nQuestion: list incidents\nResponse:\nINC1\n---\n"+
			"---\nStep 3 | Agent: log_analytics\nQuestion: check logs\nResponse:\nquiet\n---",
		ForReview(results))
	assert.Equal(t, NoResults, ForPrompt(nil))
	assert.Equal(t, NoResults, ForReview(domain.StepResults{}))
}

func TestStepContextAndTaskMessage(t *testing.T) {
	assert.Empty(t, StepContext(nil))
	assert.Equal(t, "check logs", TaskMessage("", "check logs"))

	ctx := StepContext([]domain.ExecutionResult{
		{Target: domain.WorkerServiceNow, Instruction: "find change", Output: "CHG42"},
	})
	assert.Equal(t, "Previous step results:\n---\nAgent: servicenow\nQuestion: find change\nResponse: CHG42\n---", ctx)
	assert.Equal(t, ctx+"\n\nYour task: check logs", TaskMessage(ctx, "check logs"))
}

func TestRejection(t *testing.T) {
	got := Rejection("out of domain", []string{"ServiceNow operations", "", "Service health checks"})
	assert.Equal(t,
		"I don't have knowledge about that topic. out of domain\n\nI can only help with:\n- ServiceNow operations\n- Service health checks",
		got)
	assert.Contains(t, Rejection("", nil), "I can only help with:")
}

func TestClarificationCapsInterpretations(t *testing.T) {
	got := Clarification(domain.Clarification{
		Request:         "Which pipeline do you mean?",
		Interpretations: []string{"a", "b", "c", "d", "e"},
	})
	assert.Equal(t, "Which pipeline do you mean?\n\nPossible interpretations:\n  - a\n  - b\n  - c\n  - d", got)
	assert.Equal(t, "Say more?", Clarification(domain.Clarification{Request: "Say more?"}))
}

func TestWorkerAnswers(t *testing.T) {
	got, err := WorkerAnswers([]any{
		domain.ExecutionResult{Target: domain.WorkerServiceNow, Output: "INC1"},
		domain.ExecutionResult{Target: domain.WorkerLogAnalytics},
		domain.ExecutionResult{Target: domain.WorkerServiceHealth, Output: "ok"},
	})
	require.NoError(t, err)
	assert.Equal(t, "## Servicenow\nINC1\n\n---\n\n## Service Health\nok", got)

	_, err = WorkerAnswers([]any{"not a result"})
	assert.ErrorIs(t, err, domain.ErrAggregation)
}

func TestFormattingIsIdempotentProperty(t *testing.T) {
	workers := domain.KnownWorkers()
	rapid.Check(t, func(t *rapid.T) {
		results := domain.StepResults{}
		steps := rapid.IntRange(0, 4).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			step := rapid.IntRange(1, 9).Draw(t, "step")
			n := rapid.IntRange(1, 3).Draw(t, "n")
			for j := 0; j < n; j++ {
				results[step] = append(results[step], domain.ExecutionResult{
					Target:      rapid.SampledFrom(workers).Draw(t, "target"),
					Instruction: rapid.String().Draw(t, "instruction"),
					Output:      rapid.String().Draw(t, "output"),
				})
			}
		}
		note := rapid.String().Draw(t, "note")

		first := FinalOutput(results, note)
		second := FinalOutput(results.Clone(), note)
		if first != second {
			t.Fatalf("final output differs:\n%q\n%q", first, second)
		}
		if ForPrompt(results) != ForPrompt(results.Clone()) {
			t.Fatalf("prompt output differs")
		}
	})
}
