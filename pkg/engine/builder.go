package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/polisai/polis-triage/pkg/engine/runtime"
)

// ErrInvalidWorkflow is returned by Build when the declared graph is unusable.
var ErrInvalidWorkflow = errors.New("invalid workflow")

// SelectionFunc chooses which of the candidate targets receive msg. It must
// be deterministic for a given message and may return zero, one, or many ids.
type SelectionFunc func(msg any, targets []string) []string

type edgeKind int

const (
	edgeDirect edgeKind = iota
	edgeFanOut
	edgeFanIn
	edgeSelect
)

func (k edgeKind) String() string {
	switch k {
	case edgeDirect:
		return "edge"
	case edgeFanOut:
		return "fan-out"
	case edgeFanIn:
		return "fan-in"
	case edgeSelect:
		return "multi-select"
	default:
		return "unknown"
	}
}

type edgeGroup struct {
	kind     edgeKind
	sources  []string
	targets  []string
	selector SelectionFunc
}

// Builder assembles a Workflow. Methods record the first problems they find
// and Build reports them together.
type Builder struct {
	name      string
	start     string
	executors map[string]runtime.Executor
	order     []string
	groups    []*edgeGroup
	logger    *slog.Logger
	limit     int
	errs      []error
}

// NewBuilder starts a workflow definition called name.
func NewBuilder(name string) *Builder {
	return &Builder{
		name:      name,
		executors: make(map[string]runtime.Executor),
	}
}

// WithLogger sets the logger runs derive their loggers from.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithMaxActivations caps executor activations per run. Zero selects ten
// activations per registered executor.
func (b *Builder) WithMaxActivations(n int) *Builder {
	b.limit = n
	return b
}

// AddExecutor registers executors that are not otherwise reached by an edge
// declaration.
func (b *Builder) AddExecutor(execs ...runtime.Executor) *Builder {
	for _, e := range execs {
		b.register(e)
	}
	return b
}

// SetStart marks the executor that receives the run input.
func (b *Builder) SetStart(e runtime.Executor) *Builder {
	if id, ok := b.register(e); ok {
		b.start = id
	}
	return b
}

// AddEdge routes every message from one executor to another.
func (b *Builder) AddEdge(from, to runtime.Executor) *Builder {
	src, ok1 := b.register(from)
	dst, ok2 := b.register(to)
	if ok1 && ok2 {
		b.groups = append(b.groups, &edgeGroup{kind: edgeDirect, sources: []string{src}, targets: []string{dst}})
	}
	return b
}

// AddFanOutEdges broadcasts every message from one executor to all targets.
// The targets run as one concurrent batch.
func (b *Builder) AddFanOutEdges(from runtime.Executor, targets []runtime.Executor) *Builder {
	src, ok := b.register(from)
	ids, ok2 := b.registerAll(targets)
	if !ok || !ok2 {
		return b
	}
	if len(ids) == 0 {
		b.errs = append(b.errs, fmt.Errorf("fan-out from %q has no targets", src))
		return b
	}
	b.groups = append(b.groups, &edgeGroup{kind: edgeFanOut, sources: []string{src}, targets: ids})
	return b
}

// AddFanInEdges joins sources into one delivery: to activates once every
// source has sent exactly one message, receiving them as a []any in source
// order. A source with nothing to contribute must still send a placeholder.
func (b *Builder) AddFanInEdges(sources []runtime.Executor, to runtime.Executor) *Builder {
	ids, ok := b.registerAll(sources)
	dst, ok2 := b.register(to)
	if !ok || !ok2 {
		return b
	}
	if len(ids) == 0 {
		b.errs = append(b.errs, fmt.Errorf("fan-in into %q has no sources", dst))
		return b
	}
	if dup := firstDuplicate(ids); dup != "" {
		b.errs = append(b.errs, fmt.Errorf("fan-in into %q lists %q twice", dst, dup))
		return b
	}
	b.groups = append(b.groups, &edgeGroup{kind: edgeFanIn, sources: ids, targets: []string{dst}})
	return b
}

// AddFanOutFanIn declares the broadcast-and-join pair from -> targets -> to.
func (b *Builder) AddFanOutFanIn(from runtime.Executor, targets []runtime.Executor, to runtime.Executor) *Builder {
	return b.AddFanOutEdges(from, targets).AddFanInEdges(targets, to)
}

// AddMultiSelectionEdgeGroup routes each message from one executor to the
// subset of targets chosen by selector. Targets are passed to selector in
// declaration order.
func (b *Builder) AddMultiSelectionEdgeGroup(from runtime.Executor, targets []runtime.Executor, selector SelectionFunc) *Builder {
	src, ok := b.register(from)
	ids, ok2 := b.registerAll(targets)
	if !ok || !ok2 {
		return b
	}
	if selector == nil {
		b.errs = append(b.errs, fmt.Errorf("multi-select from %q has no selection function", src))
		return b
	}
	if len(ids) == 0 {
		b.errs = append(b.errs, fmt.Errorf("multi-select from %q has no targets", src))
		return b
	}
	b.groups = append(b.groups, &edgeGroup{kind: edgeSelect, sources: []string{src}, targets: ids, selector: selector})
	return b
}

// Build validates the definition and returns an immutable Workflow.
func (b *Builder) Build() (*Workflow, error) {
	errs := append([]error(nil), b.errs...)
	if strings.TrimSpace(b.name) == "" {
		errs = append(errs, errors.New("workflow name is required"))
	}
	if b.start == "" {
		errs = append(errs, errors.New("start executor is not set"))
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w %q: %w", ErrInvalidWorkflow, b.name, errors.Join(errs...))
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	limit := b.limit
	if limit <= 0 {
		limit = len(b.executors) * 10
	}

	wf := &Workflow{
		name:      b.name,
		start:     b.start,
		executors: make(map[string]runtime.Executor, len(b.executors)),
		order:     append([]string(nil), b.order...),
		outgoing:  make(map[string][]*edgeGroup),
		logger:    logger,
		limit:     limit,
	}
	for id, e := range b.executors {
		wf.executors[id] = e
	}
	for _, g := range b.groups {
		for _, src := range g.sources {
			wf.outgoing[src] = append(wf.outgoing[src], g)
		}
		wf.groups = append(wf.groups, g)
	}
	return wf, nil
}

func (b *Builder) register(e runtime.Executor) (string, bool) {
	if e == nil {
		b.errs = append(b.errs, errors.New("nil executor"))
		return "", false
	}
	id := e.ID()
	if strings.TrimSpace(id) == "" {
		b.errs = append(b.errs, fmt.Errorf("executor %T has an empty id", e))
		return "", false
	}
	if existing, ok := b.executors[id]; ok {
		if existing != e {
			b.errs = append(b.errs, fmt.Errorf("executor id %q registered twice", id))
			return "", false
		}
		return id, true
	}
	b.executors[id] = e
	b.order = append(b.order, id)
	return id, true
}

func (b *Builder) registerAll(execs []runtime.Executor) ([]string, bool) {
	ids := make([]string, 0, len(execs))
	ok := true
	for _, e := range execs {
		id, registered := b.register(e)
		if !registered {
			ok = false
			continue
		}
		ids = append(ids, id)
	}
	return ids, ok
}

func firstDuplicate(ids []string) string {
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			return id
		}
		seen[id] = struct{}{}
	}
	return ""
}

// Workflow is a validated graph definition. It is safe to run concurrently;
// every run gets its own state.
type Workflow struct {
	name      string
	start     string
	executors map[string]runtime.Executor
	order     []string
	groups    []*edgeGroup
	outgoing  map[string][]*edgeGroup
	logger    *slog.Logger
	limit     int
}

// Name returns the workflow name.
func (w *Workflow) Name() string { return w.name }

// StartID returns the id of the start executor.
func (w *Workflow) StartID() string { return w.start }

// ExecutorIDs lists executor ids in registration order.
func (w *Workflow) ExecutorIDs() []string { return append([]string(nil), w.order...) }

// Describe renders the edge groups one per line, for diagnostics.
func (w *Workflow) Describe() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "workflow %s (start: %s)\n", w.name, w.start)
	for _, g := range w.groups {
		fmt.Fprintf(&sb, "  %-12s %s -> %s\n", g.kind, strings.Join(g.sources, ","), strings.Join(g.targets, ","))
	}
	return sb.String()
}
