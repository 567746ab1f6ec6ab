// Package worker holds the worker collaborators a plan's tasks run against
// and the closed registry that maps worker identifiers to them.
package worker

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/polisai/polis-triage/pkg/domain"
)

// Worker answers a single task message.
type Worker interface {
	Answer(ctx context.Context, task string) (string, error)
}

// Func adapts a function to Worker.
type Func func(ctx context.Context, task string) (string, error)

// Answer calls f.
func (f Func) Answer(ctx context.Context, task string) (string, error) {
	return f(ctx, task)
}

// Entry is a registered worker with the capability line shown to users when
// a request is out of domain.
type Entry struct {
	ID          domain.WorkerID
	Description string
	Worker      Worker
}

// Registry maps worker identifiers to workers. Only identifiers in the fixed
// worker set may be registered.
type Registry struct {
	mu      sync.RWMutex
	entries map[domain.WorkerID]Entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[domain.WorkerID]Entry)}
}

// Register adds or replaces the worker for id.
func (r *Registry) Register(id domain.WorkerID, description string, w Worker) error {
	if !id.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrUnknownWorker, id)
	}
	if w == nil {
		return fmt.Errorf("worker %q is nil", id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[id] = Entry{ID: id, Description: description, Worker: w}
	return nil
}

// Lookup returns the worker registered for id.
func (r *Registry) Lookup(id domain.WorkerID) (Worker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q is not registered", domain.ErrUnknownWorker, id)
	}
	return entry.Worker, nil
}

// Known reports whether id has a registered worker. It is the plan
// validation predicate.
func (r *Registry) Known(id domain.WorkerID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[id]
	return ok
}

// Entries returns the registered workers ordered by id.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IDs returns the registered identifiers ordered by id.
func (r *Registry) IDs() []domain.WorkerID {
	entries := r.Entries()
	out := make([]domain.WorkerID, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}

// Descriptions returns the capability lines of the registered workers.
func (r *Registry) Descriptions() []string {
	entries := r.Entries()
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Description != "" {
			out = append(out, e.Description)
		}
	}
	return out
}
