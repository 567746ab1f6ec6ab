package worker

import (
	"context"

	"github.com/polisai/polis-triage/pkg/inference"
)

// LLMWorker answers tasks with a model primed by the agent's instructions.
type LLMWorker struct {
	model        inference.Model
	instructions string
}

// NewLLMWorker creates a model-backed worker.
func NewLLMWorker(model inference.Model, instructions string) *LLMWorker {
	return &LLMWorker{model: model, instructions: instructions}
}

// Answer implements Worker.
func (w *LLMWorker) Answer(ctx context.Context, task string) (string, error) {
	return w.model.Generate(ctx, inference.Prompt{System: w.instructions, User: task})
}
