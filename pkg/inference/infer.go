package inference

import (
	"context"
)

// Infer asks model for prompt and decodes the answer into T through shape.
// Model errors are returned unchanged so the caller's call policy has
// already classified them.
func Infer[T any](ctx context.Context, model Model, prompt Prompt, shape *Shape) (T, error) {
	var out T
	raw, err := model.Generate(ctx, prompt)
	if err != nil {
		return out, err
	}
	if err := shape.Decode(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}
