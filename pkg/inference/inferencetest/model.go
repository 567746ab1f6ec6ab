// Package inferencetest provides a scripted inference.Model for tests.
package inferencetest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/polisai/polis-triage/pkg/inference"
)

// Reply is one scripted answer. Err takes precedence over Text.
type Reply struct {
	Text string
	Err  error
}

// Model answers prompts from scripted queues. A prompt is matched to the
// first rule whose marker it contains; each rule hands out its replies in
// order and repeats the last one once exhausted.
type Model struct {
	mu      sync.Mutex
	rules   []*rule
	prompts []inference.Prompt
}

type rule struct {
	marker  string
	replies []Reply
	served  int
}

// New returns an empty scripted model.
func New() *Model {
	return &Model{}
}

// On scripts replies for prompts containing marker.
func (m *Model) On(marker string, replies ...Reply) *Model {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, &rule{marker: marker, replies: replies})
	return m
}

// OnText is On with plain text replies.
func (m *Model) OnText(marker string, texts ...string) *Model {
	replies := make([]Reply, len(texts))
	for i, t := range texts {
		replies[i] = Reply{Text: t}
	}
	return m.On(marker, replies...)
}

// Generate implements inference.Model.
func (m *Model) Generate(ctx context.Context, prompt inference.Prompt) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, prompt)

	for _, r := range m.rules {
		if !strings.Contains(prompt.User, r.marker) || len(r.replies) == 0 {
			continue
		}
		idx := r.served
		if idx >= len(r.replies) {
			idx = len(r.replies) - 1
		}
		r.served++
		reply := r.replies[idx]
		if reply.Err != nil {
			return "", reply.Err
		}
		return reply.Text, nil
	}
	return "", fmt.Errorf("inferencetest: no scripted reply for prompt %q", truncate(prompt.User, 80))
}

// Prompts returns every prompt received, in call order.
func (m *Model) Prompts() []inference.Prompt {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]inference.Prompt(nil), m.prompts...)
}

// Calls counts prompts containing marker.
func (m *Model) Calls(marker string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.prompts {
		if strings.Contains(p.User, marker) {
			n++
		}
	}
	return n
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
