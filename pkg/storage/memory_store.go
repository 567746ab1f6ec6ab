package storage

import (
	"context"
	"sync"

	"github.com/polisai/polis-triage/pkg/domain"
)

// MemoryStore is an in-memory implementation of ConversationStore.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string][]domain.ChatMessage
	closed        bool
}

// NewMemoryStore creates a new MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string][]domain.ChatMessage),
	}
}

// Append adds messages to a conversation.
func (s *MemoryStore) Append(_ context.Context, conversationID string, msgs ...domain.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	s.conversations[conversationID] = append(s.conversations[conversationID], msgs...)
	return nil
}

// History returns a copy of the conversation tail.
func (s *MemoryStore) History(_ context.Context, conversationID string, limit int) ([]domain.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}
	return tail(s.conversations[conversationID], limit), nil
}

// Close drops every conversation.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.conversations = nil
	return nil
}
