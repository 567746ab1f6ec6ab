package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// WorkerID identifies one of the fixed worker collaborators a plan may target.
type WorkerID string

const (
	// WorkerServiceNow answers change request and incident questions.
	WorkerServiceNow WorkerID = "servicenow"
	// WorkerLogAnalytics answers pipeline monitoring questions.
	WorkerLogAnalytics WorkerID = "log_analytics"
	// WorkerServiceHealth answers platform health questions.
	WorkerServiceHealth WorkerID = "service_health"
)

// KnownWorkers lists the worker identifiers in their canonical order.
func KnownWorkers() []WorkerID {
	return []WorkerID{WorkerServiceNow, WorkerLogAnalytics, WorkerServiceHealth}
}

// Valid reports whether w is one of the known worker identifiers.
func (w WorkerID) Valid() bool {
	switch w {
	case WorkerServiceNow, WorkerLogAnalytics, WorkerServiceHealth:
		return true
	}
	return false
}

// ParseWorkerID converts s into a WorkerID, rejecting unknown tags.
func ParseWorkerID(s string) (WorkerID, error) {
	w := WorkerID(strings.TrimSpace(s))
	if !w.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownWorker, s)
	}
	return w, nil
}

// PlanStep is one task of a plan. Tasks sharing a step number run
// concurrently; distinct step numbers run in ascending order.
type PlanStep struct {
	Step        int      `json:"step" yaml:"step"`
	Target      WorkerID `json:"agent" yaml:"agent"`
	Instruction string   `json:"question" yaml:"question"`
}

// Plan is the ordered task list produced by the planner. A retry produces a
// new Plan rather than editing an existing one.
type Plan []PlanStep

// Validate checks step numbers, instructions, and that every target resolves
// through known. A nil known falls back to WorkerID.Valid.
func (p Plan) Validate(known func(WorkerID) bool) error {
	if known == nil {
		known = WorkerID.Valid
	}
	var errs []error
	for i, step := range p {
		if step.Step < 1 {
			errs = append(errs, fmt.Errorf("plan[%d]: step must be >= 1, got %d", i, step.Step))
		}
		if !known(step.Target) {
			errs = append(errs, fmt.Errorf("plan[%d]: %w %q", i, ErrUnknownWorker, step.Target))
		}
		if strings.TrimSpace(step.Instruction) == "" {
			errs = append(errs, fmt.Errorf("plan[%d]: instruction is required", i))
		}
	}
	if len(errs) > 0 {
		return &ValidationError{Shape: "plan", Err: errors.Join(errs...)}
	}
	return nil
}

// Steps returns the distinct step numbers in ascending order.
func (p Plan) Steps() []int {
	seen := make(map[int]struct{}, len(p))
	steps := make([]int, 0, len(p))
	for _, s := range p {
		if _, ok := seen[s.Step]; ok {
			continue
		}
		seen[s.Step] = struct{}{}
		steps = append(steps, s.Step)
	}
	sort.Ints(steps)
	return steps
}

// Group buckets the plan's tasks by step number, preserving plan order
// within each bucket.
func (p Plan) Group() map[int][]PlanStep {
	grouped := make(map[int][]PlanStep)
	for _, s := range p {
		grouped[s.Step] = append(grouped[s.Step], s)
	}
	return grouped
}
