package domain

import "sort"

// ExecutionResult records the outcome of one executed task. Failed tasks
// still produce a result whose Output carries the failure detail.
type ExecutionResult struct {
	Target      WorkerID `json:"agent"`
	Instruction string   `json:"question"`
	Output      string   `json:"response"`
	Failed      bool     `json:"failed,omitempty"`
}

// StepResults maps a step number to the results produced in that step.
// Order within a step is completion order and carries no meaning.
type StepResults map[int][]ExecutionResult

// Steps returns the populated step numbers in ascending order.
func (r StepResults) Steps() []int {
	steps := make([]int, 0, len(r))
	for step := range r {
		steps = append(steps, step)
	}
	sort.Ints(steps)
	return steps
}

// MaxStep returns the highest step number present, or 0 when empty.
func (r StepResults) MaxStep() int {
	highest := 0
	for step := range r {
		if step > highest {
			highest = step
		}
	}
	return highest
}

// Len counts results across all steps.
func (r StepResults) Len() int {
	n := 0
	for _, results := range r {
		n += len(results)
	}
	return n
}

// Failures counts placeholder results produced by failed tasks.
func (r StepResults) Failures() int {
	n := 0
	for _, results := range r {
		for _, res := range results {
			if res.Failed {
				n++
			}
		}
	}
	return n
}

// Clone returns a deep copy so callers can extend it without aliasing.
func (r StepResults) Clone() StepResults {
	out := make(StepResults, len(r))
	for step, results := range r {
		out[step] = append([]ExecutionResult(nil), results...)
	}
	return out
}

// Merge returns a copy of r extended with the results of a later run whose
// step numbers are shifted by r.MaxStep(), so merged work always orders
// strictly after what r already holds.
func (r StepResults) Merge(later StepResults) StepResults {
	offset := r.MaxStep()
	out := r.Clone()
	for step, results := range later {
		out[step+offset] = append(out[step+offset], results...)
	}
	return out
}

// Ordered flattens the results by ascending step number. Within a step the
// stored order is kept.
func (r StepResults) Ordered() []StepResult {
	out := make([]StepResult, 0, r.Len())
	for _, step := range r.Steps() {
		for _, res := range r[step] {
			out = append(out, StepResult{Step: step, ExecutionResult: res})
		}
	}
	return out
}

// StepResult pairs a result with the step it ran in.
type StepResult struct {
	Step int
	ExecutionResult
}
