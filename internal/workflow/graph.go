// Package workflow runs directed acyclic graphs of stateful vertices.
//
// Each vertex runs an Action. After a vertex succeeds the engine follows
// the first outgoing edge, in insertion order, whose predicate accepts the
// vertex's output. Execution along the chosen path is strictly sequential
// and halts at the first failed vertex.
package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/aatumaykin/nexbeat/internal/logger"
)

// State is the lifecycle state of a vertex within one execution.
type State string

const (
	StatePending State = "pending"
	StateRunning State = "running"
	StateSuccess State = "success"
	StateFailed  State = "failed"
)

var (
	ErrNoStartVertex   = errors.New("graph has no start vertex")
	ErrCycle           = errors.New("graph contains a cycle")
	ErrUnknownVertex   = errors.New("unknown vertex")
	ErrDuplicateVertex = errors.New("duplicate vertex")
)

// VertexError reports the vertex that halted an execution.
type VertexError struct {
	VertexID string
	Err      error
}

func (e *VertexError) Error() string {
	return fmt.Sprintf("vertex %q failed: %v", e.VertexID, e.Err)
}

func (e *VertexError) Unwrap() error {
	return e.Err
}

// Input is what an Action receives. Results holds the outputs of the
// vertices that succeeded earlier in the same execution.
type Input struct {
	Task        string
	VertexID    string
	Params      map[string]any
	Results     map[string]string
	Predecessor string
}

// Previous returns the output of the vertex the engine came from.
func (in *Input) Previous() string {
	return in.Results[in.Predecessor]
}

// Action is the step a vertex runs. It is not callable by a model.
type Action func(ctx context.Context, in *Input) (string, error)

// Predicate decides whether an edge is traversed given the source output.
type Predicate func(result string) bool

// Vertex is a node of the graph.
type Vertex struct {
	ID     string
	action Action

	state  State
	result string
	err    error
}

// State returns the state from the latest execution.
func (v *Vertex) State() State { return v.state }

// Result returns the output from the latest execution.
func (v *Vertex) Result() string { return v.result }

// Err returns the failure from the latest execution.
func (v *Vertex) Err() error { return v.err }

// Edge connects two vertices. A nil When always matches.
type Edge struct {
	Source string
	Target string
	When   Predicate
}

// Hooks observe vertex transitions.
type Hooks struct {
	OnVertexStart  func(id string)
	OnVertexFinish func(id string, o Outcome)
}

// Option configures a Graph.
type Option func(*Graph)

// WithLogger sets the graph logger.
func WithLogger(l *logger.Logger) Option {
	return func(g *Graph) {
		if l != nil {
			g.logger = l.Component("workflow")
		}
	}
}

// WithHooks installs transition hooks.
func WithHooks(h Hooks) Option {
	return func(g *Graph) { g.hooks = h }
}

// Graph is a workflow definition plus the state of its latest execution.
// A Graph is not safe for concurrent executions.
type Graph struct {
	name     string
	order    []string
	vertices map[string]*Vertex
	edges    map[string][]Edge
	start    string
	logger   *logger.Logger
	hooks    Hooks
}

// NewGraph creates an empty graph.
func NewGraph(name string, opts ...Option) *Graph {
	g := &Graph{
		name:     name,
		vertices: make(map[string]*Vertex),
		edges:    make(map[string][]Edge),
		logger:   logger.Discard(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Name returns the graph name.
func (g *Graph) Name() string { return g.name }

// AddVertex adds a pending vertex.
func (g *Graph) AddVertex(id string, action Action) error {
	if id == "" {
		return fmt.Errorf("vertex id cannot be empty")
	}
	if action == nil {
		return fmt.Errorf("vertex %q has no action", id)
	}
	if _, ok := g.vertices[id]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateVertex, id)
	}
	g.vertices[id] = &Vertex{ID: id, action: action, state: StatePending}
	g.order = append(g.order, id)
	return nil
}

// AddEdge connects source to target. Edges are tried in the order added.
func (g *Graph) AddEdge(source, target string, when Predicate) error {
	for _, id := range []string{source, target} {
		if _, ok := g.vertices[id]; !ok {
			return fmt.Errorf("%w: %q", ErrUnknownVertex, id)
		}
	}
	g.edges[source] = append(g.edges[source], Edge{Source: source, Target: target, When: when})
	return nil
}

// SetStart designates the start vertex.
func (g *Graph) SetStart(id string) error {
	if _, ok := g.vertices[id]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownVertex, id)
	}
	g.start = id
	return nil
}

// Start returns the start vertex id.
func (g *Graph) Start() string { return g.start }

// Vertex returns the vertex with id, or nil.
func (g *Graph) Vertex(id string) *Vertex { return g.vertices[id] }

// Vertices returns vertex ids in insertion order.
func (g *Graph) Vertices() []string {
	return append([]string(nil), g.order...)
}

// Edges returns the outgoing edges of id in insertion order.
func (g *Graph) Edges(id string) []Edge {
	return append([]Edge(nil), g.edges[id]...)
}

// Validate checks that the start vertex is set and that the subgraph
// reachable from it is acyclic.
func (g *Graph) Validate() error {
	if g.start == "" {
		return ErrNoStartVertex
	}
	return g.checkAcyclic(g.start)
}

func (g *Graph) checkAcyclic(from string) error {
	const (
		unvisited = iota
		onStack
		done
	)
	marks := make(map[string]int, len(g.vertices))

	var visit func(id string) error
	visit = func(id string) error {
		switch marks[id] {
		case onStack:
			return fmt.Errorf("%w: through %q", ErrCycle, id)
		case done:
			return nil
		}
		marks[id] = onStack
		for _, e := range g.edges[id] {
			if err := visit(e.Target); err != nil {
				return err
			}
		}
		marks[id] = done
		return nil
	}
	return visit(from)
}

func (g *Graph) reset() {
	for _, v := range g.vertices {
		v.state = StatePending
		v.result = ""
		v.err = nil
	}
}

// next returns the target of the first matching outgoing edge of id.
func (g *Graph) next(id, result string) string {
	for _, e := range g.edges[id] {
		if e.When == nil || e.When(result) {
			return e.Target
		}
	}
	return ""
}
