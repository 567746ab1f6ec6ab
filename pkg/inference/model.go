package inference

import (
	"context"
)

// Prompt is a single model request.
type Prompt struct {
	// System carries the agent instructions. It may be empty.
	System string
	User   string
}

// Model generates a completion for a prompt.
type Model interface {
	Generate(ctx context.Context, prompt Prompt) (string, error)
}

// ModelFunc adapts a function to Model.
type ModelFunc func(ctx context.Context, prompt Prompt) (string, error)

// Generate calls f.
func (f ModelFunc) Generate(ctx context.Context, prompt Prompt) (string, error) {
	return f(ctx, prompt)
}
