package runtime

import (
	"sync"
	"time"
)

// EventKind names a progress notification point.
type EventKind string

const (
	EventNodeEntered  EventKind = "node_entered"
	EventNodeExited   EventKind = "node_exited"
	EventTaskStarted  EventKind = "task_started"
	EventTaskFinished EventKind = "task_finished"
)

// Event is a progress notification delivered to a run's sink.
type Event struct {
	Kind     EventKind     `json:"kind"`
	RunID    string        `json:"run_id"`
	NodeID   string        `json:"node_id,omitempty"`
	Target   string        `json:"target,omitempty"`
	Step     int           `json:"step,omitempty"`
	Message  string        `json:"message,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration_ns,omitempty"`
	Time     time.Time     `json:"time"`
}

// Sink receives progress events for one run.
type Sink interface {
	Notify(evt Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(evt Event)

// Notify calls f.
func (f SinkFunc) Notify(evt Event) { f(evt) }

// Notify delivers evt to sink. A nil sink is a no-op.
func Notify(sink Sink, evt Event) {
	if sink == nil {
		return
	}
	if evt.Time.IsZero() {
		evt.Time = time.Now()
	}
	sink.Notify(evt)
}

// SerialSink wraps sink so that concurrent callers never overlap inside
// Notify. A nil sink stays nil.
func SerialSink(sink Sink) Sink {
	if sink == nil {
		return nil
	}
	if _, ok := sink.(*serialSink); ok {
		return sink
	}
	return &serialSink{next: sink}
}

type serialSink struct {
	mu   sync.Mutex
	next Sink
}

func (s *serialSink) Notify(evt Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next.Notify(evt)
}

// Recorder is a Sink that keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Notify records evt.
func (r *Recorder) Notify(evt Event) {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Kinds returns the kinds of the recorded events in arrival order.
func (r *Recorder) Kinds() []EventKind {
	events := r.Events()
	out := make([]EventKind, len(events))
	for i, e := range events {
		out[i] = e.Kind
	}
	return out
}
