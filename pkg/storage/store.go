// Package storage persists conversation history between runs. The workflow
// engine itself is stateless; the server appends each exchange here and
// replays it as the message history of the next run.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/polisai/polis-triage/pkg/domain"
)

// ErrClosed is returned by a store used after Close.
var ErrClosed = errors.New("conversation store closed")

// Drivers accepted by Open.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// ConversationStore exposes persistence operations for conversation history.
type ConversationStore interface {
	// Append adds messages to the end of a conversation.
	Append(ctx context.Context, conversationID string, msgs ...domain.ChatMessage) error
	// History returns the most recent limit messages in chronological order.
	// A limit of zero or less returns the whole conversation. Unknown
	// conversations are empty.
	History(ctx context.Context, conversationID string, limit int) ([]domain.ChatMessage, error)
	Close() error
}

// Open constructs the store selected by driver.
func Open(driver, dsn string) (ConversationStore, error) {
	switch driver {
	case "", DriverMemory:
		return NewMemoryStore(), nil
	case DriverSQLite:
		return NewSQLiteStore(dsn)
	default:
		return nil, fmt.Errorf("%w: unsupported storage driver %q", domain.ErrConfigInvalid, driver)
	}
}

func tail(msgs []domain.ChatMessage, limit int) []domain.ChatMessage {
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]domain.ChatMessage, len(msgs))
	copy(out, msgs)
	return out
}
