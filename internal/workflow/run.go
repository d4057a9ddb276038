package workflow

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/aatumaykin/nexbeat/internal/logger"
)

// Outcome is the terminal state of a reached vertex.
type Outcome struct {
	State  State
	Output string
	Err    error
}

// Execution is the result of one graph run. Results holds only reached
// vertices; Path lists them in execution order.
type Execution struct {
	Results map[string]Outcome
	Path    []string
}

// Output returns the output of the last vertex on the path.
func (e *Execution) Output() string {
	if len(e.Path) == 0 {
		return ""
	}
	return e.Results[e.Path[len(e.Path)-1]].Output
}

func (e *Execution) outputs() map[string]string {
	out := make(map[string]string, len(e.Results))
	for id, o := range e.Results {
		if o.State == StateSuccess {
			out[id] = o.Output
		}
	}
	return out
}

// Run executes the graph from its start vertex to a vertex without a
// matching outgoing edge. On a vertex failure the partial execution is
// returned together with a *VertexError.
func (g *Graph) Run(ctx context.Context, params map[string]any) (*Execution, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g.execute(ctx, g.start, nil, params)
}

// RunUntil executes from the start vertex and stops after target, without
// following target's outgoing edges.
func (g *Graph) RunUntil(ctx context.Context, target string, params map[string]any) (*Execution, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	if _, ok := g.vertices[target]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVertex, target)
	}
	return g.execute(ctx, g.start, []string{target}, params)
}

// RunSubgraph executes from start and treats ends as terminal vertices.
func (g *Graph) RunSubgraph(ctx context.Context, start string, ends []string, params map[string]any) (*Execution, error) {
	for _, id := range append([]string{start}, ends...) {
		if _, ok := g.vertices[id]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownVertex, id)
		}
	}
	if err := g.checkAcyclic(start); err != nil {
		return nil, err
	}
	return g.execute(ctx, start, ends, params)
}

func (g *Graph) execute(ctx context.Context, start string, ends []string, params map[string]any) (*Execution, error) {
	g.reset()
	exec := &Execution{Results: make(map[string]Outcome)}
	if params == nil {
		params = map[string]any{}
	}

	began := time.Now()
	g.logger.InfoCtx(ctx, "workflow started",
		logger.Field{Key: "workflow", Value: g.name},
		logger.Field{Key: "start", Value: start})

	current, pred := start, ""
	for current != "" {
		if err := ctx.Err(); err != nil {
			return exec, err
		}
		v := g.vertices[current]
		if v.state != StatePending {
			return exec, fmt.Errorf("%w: vertex %q reached twice", ErrCycle, current)
		}

		in := &Input{
			Task:        g.name,
			VertexID:    current,
			Params:      maps.Clone(params),
			Results:     exec.outputs(),
			Predecessor: pred,
		}
		out, err := g.runVertex(ctx, v, in)
		exec.Path = append(exec.Path, current)
		exec.Results[current] = Outcome{State: v.state, Output: out, Err: err}
		if g.hooks.OnVertexFinish != nil {
			g.hooks.OnVertexFinish(current, exec.Results[current])
		}
		if err != nil {
			g.logger.ErrorCtx(ctx, "workflow halted", err,
				logger.Field{Key: "workflow", Value: g.name},
				logger.Field{Key: "vertex", Value: current})
			return exec, &VertexError{VertexID: current, Err: err}
		}

		if slices.Contains(ends, current) {
			break
		}
		pred, current = current, g.next(current, out)
	}

	g.logger.InfoCtx(ctx, "workflow finished",
		logger.Field{Key: "workflow", Value: g.name},
		logger.Field{Key: "path", Value: exec.Path},
		logger.Field{Key: "duration", Value: time.Since(began)})
	return exec, nil
}

func (g *Graph) runVertex(ctx context.Context, v *Vertex, in *Input) (string, error) {
	v.state = StateRunning
	if g.hooks.OnVertexStart != nil {
		g.hooks.OnVertexStart(v.ID)
	}
	g.logger.DebugCtx(ctx, "vertex running",
		logger.Field{Key: "workflow", Value: g.name},
		logger.Field{Key: "vertex", Value: v.ID})

	out, err := invoke(ctx, v.action, in)
	if err != nil {
		v.state = StateFailed
		v.err = err
		return "", err
	}
	v.state = StateSuccess
	v.result = out
	return out, nil
}

func invoke(ctx context.Context, action Action, in *Input) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action panicked: %v", r)
		}
	}()
	return action(ctx, in)
}
