package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func genStepResults(t *rapid.T, label string) StepResults {
	n := rapid.IntRange(0, 5).Draw(t, label+"_steps")
	out := make(StepResults, n)
	for i := 0; i < n; i++ {
		step := rapid.IntRange(1, 8).Draw(t, label+"_step")
		out[step] = append(out[step], ExecutionResult{
			Target:      rapid.SampledFrom(KnownWorkers()).Draw(t, label+"_target"),
			Instruction: rapid.StringMatching(`[a-z]{1,8}`).Draw(t, label+"_instruction"),
			Output:      rapid.StringMatching(`[a-z ]{0,16}`).Draw(t, label+"_output"),
		})
	}
	return out
}

func TestStepResultsMergeOrdersRetryAfterExistingProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		existing := genStepResults(t, "existing")
		later := genStepResults(t, "later")

		merged := existing.Merge(later)

		assert.Equal(t, existing.Len()+later.Len(), merged.Len())
		for step, results := range existing {
			assert.Equal(t, results, merged[step])
		}
		for step, results := range later {
			assert.Equal(t, results, merged[step+existing.MaxStep()])
			assert.Greater(t, step+existing.MaxStep(), existing.MaxStep())
		}
	})
}

func TestStepResultsMergeLeavesInputsUntouched(t *testing.T) {
	existing := StepResults{1: {{Target: WorkerServiceNow, Output: "a"}}}
	later := StepResults{1: {{Target: WorkerServiceHealth, Output: "b"}}}

	merged := existing.Merge(later)

	assert.Len(t, existing, 1)
	assert.Len(t, later, 1)
	assert.Equal(t, []int{1, 2}, merged.Steps())
	assert.Equal(t, "b", merged[2][0].Output)
}

func TestStepResultsOrdered(t *testing.T) {
	results := StepResults{
		4: {{Target: WorkerServiceHealth, Output: "late"}},
		1: {{Target: WorkerServiceNow, Output: "early"}, {Target: WorkerLogAnalytics, Output: "early too", Failed: true}},
	}

	ordered := results.Ordered()

	assert.Len(t, ordered, 3)
	assert.Equal(t, 1, ordered[0].Step)
	assert.Equal(t, 4, ordered[2].Step)
	assert.Equal(t, 1, results.Failures())
	assert.Equal(t, 4, results.MaxStep())
}
