package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/polisai/polis-triage/pkg/engine/runtime"
)

// ErrUnexpectedMessage is returned when an executor receives a message type
// it does not handle.
var ErrUnexpectedMessage = errors.New("unexpected message type")

// HandlerFunc processes one message of type T.
type HandlerFunc[T any] func(ctx context.Context, msg T, wctx runtime.Context) error

type typedExecutor[T any] struct {
	id string
	fn HandlerFunc[T]
}

// NewExecutor wraps fn as an executor that accepts messages of type T and
// fails the run on anything else.
func NewExecutor[T any](id string, fn HandlerFunc[T]) runtime.Executor {
	return &typedExecutor[T]{id: id, fn: fn}
}

func (e *typedExecutor[T]) ID() string { return e.id }

func (e *typedExecutor[T]) Handle(ctx context.Context, msg any, wctx runtime.Context) error {
	v, ok := msg.(T)
	if !ok {
		return fmt.Errorf("%w: executor %q cannot accept %T", ErrUnexpectedMessage, e.id, msg)
	}
	return e.fn(ctx, v, wctx)
}

// Select adapts a typed selection function. Messages of any other type are
// not routed.
func Select[T any](fn func(msg T, targets []string) []string) SelectionFunc {
	return func(msg any, targets []string) []string {
		v, ok := msg.(T)
		if !ok {
			return nil
		}
		return fn(v, targets)
	}
}
