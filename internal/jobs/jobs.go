// Package jobs binds routed task names to workflow executions.
//
// Each task body loads the workflow definition named after the task, builds
// it against the configured provider and toolkit and runs it with the
// schedule parameters. Progress is reported through the guard scope.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aatumaykin/nexbeat/internal/agent"
	"github.com/aatumaykin/nexbeat/internal/guard"
	"github.com/aatumaykin/nexbeat/internal/logger"
	"github.com/aatumaykin/nexbeat/internal/workers"
	"github.com/aatumaykin/nexbeat/internal/workflow"
)

// maxStateOutput bounds the output copied into the schedule state.
const maxStateOutput = 500

// Definitions resolves a task name to a workflow definition.
type Definitions interface {
	Get(name string) (*workflow.Definition, error)
}

// Runner executes workflows for task names.
type Runner struct {
	defs        Definitions
	builder     *workflow.Builder
	transcripts *agent.Transcripts
	logger      *logger.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithTranscripts writes every role's memory after each run.
func WithTranscripts(t *agent.Transcripts) Option {
	return func(r *Runner) { r.transcripts = t }
}

// NewRunner creates a Runner.
func NewRunner(defs Definitions, builder *workflow.Builder, log *logger.Logger, opts ...Option) *Runner {
	if log == nil {
		log = logger.Discard()
	}
	r := &Runner{defs: defs, builder: builder, logger: log.Component("jobs")}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register installs a body for every task name on pool.
func (r *Runner) Register(pool *workers.WorkerPool, taskNames ...string) {
	for _, name := range taskNames {
		pool.Register(name, r.Body(name))
	}
}

// Body returns the worker body for taskName.
func (r *Runner) Body(taskName string) workers.Body {
	return func(ctx context.Context, task *workers.Task) error {
		_, err := r.run(ctx, taskName, task.ID, task.Params, task.Scope)
		return err
	}
}

// Run executes the workflow for taskName outside the worker pool.
func (r *Runner) Run(ctx context.Context, taskName string, params map[string]any) (*workflow.Execution, error) {
	return r.run(ctx, taskName, uuid.NewString(), params, nil)
}

func (r *Runner) run(ctx context.Context, taskName, runID string, params map[string]any, scope *guard.Scope) (*workflow.Execution, error) {
	def, err := r.defs.Get(taskName)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow %q: %w", taskName, err)
	}

	hooks := workflow.Hooks{
		OnVertexFinish: func(id string, o workflow.Outcome) {
			updateState(ctx, scope, map[string]any{
				"last_vertex":       id,
				"last_vertex_state": string(o.State),
			})
		},
	}
	compiled, err := r.builder.Build(def, workflow.WithHooks(hooks))
	if err != nil {
		return nil, fmt.Errorf("failed to build workflow %q: %w", taskName, err)
	}

	log := r.logger.With(
		logger.Field{Key: "task", Value: taskName},
		logger.Field{Key: "run_id", Value: runID})
	log.InfoCtx(ctx, "job started", logger.Field{Key: "workflow", Value: def.Name})
	updateState(ctx, scope, map[string]any{"workflow": def.Name})

	started := time.Now()
	exec, runErr := compiled.Graph.Run(ctx, params)
	r.writeTranscripts(ctx, log, runID, compiled, scope)

	if runErr != nil {
		log.ErrorCtx(ctx, "job failed", runErr,
			logger.Field{Key: "duration", Value: time.Since(started)})
		return exec, runErr
	}

	output := exec.Output()
	updateState(ctx, scope, map[string]any{
		"output": truncate(output, maxStateOutput),
		"path":   exec.Path,
	})
	log.InfoCtx(ctx, "job finished",
		logger.Field{Key: "path", Value: exec.Path},
		logger.Field{Key: "duration", Value: time.Since(started)})
	return exec, nil
}

func (r *Runner) writeTranscripts(ctx context.Context, log *logger.Logger, runID string, c *workflow.Compiled, scope *guard.Scope) {
	if r.transcripts == nil || len(c.Roles) == 0 {
		return
	}
	for _, name := range c.Environment.Members() {
		if err := r.transcripts.Append(runID, c.Roles[name]); err != nil {
			log.WarnCtx(ctx, "failed to write transcript",
				logger.Field{Key: "role", Value: name},
				logger.Field{Key: "error", Value: err})
			return
		}
	}
	updateState(ctx, scope, map[string]any{"transcript": r.transcripts.Path(runID)})
}

func updateState(ctx context.Context, scope *guard.Scope, kv map[string]any) {
	if scope == nil {
		return
	}
	scope.UpdateState(ctx, kv)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
