package jobs

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/aatumaykin/nexbeat/internal/agent"
	"github.com/aatumaykin/nexbeat/internal/guard"
	"github.com/aatumaykin/nexbeat/internal/llm"
	"github.com/aatumaykin/nexbeat/internal/logger"
	"github.com/aatumaykin/nexbeat/internal/store"
	"github.com/aatumaykin/nexbeat/internal/workers"
	"github.com/aatumaykin/nexbeat/internal/workflow"
)

// staticDefs serves the generic definition unless overridden.
type staticDefs map[string]*workflow.Definition

func (s staticDefs) Get(name string) (*workflow.Definition, error) {
	if def, ok := s[name]; ok {
		return def, nil
	}
	return workflow.GenericDefinition(name), nil
}

type failingDefs struct{}

func (failingDefs) Get(string) (*workflow.Definition, error) {
	return nil, errors.New("disk on fire")
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestRunner_Run(t *testing.T) {
	builder := workflow.NewBuilder(llm.NewEchoProvider(), nil, nil)
	r := NewRunner(staticDefs{}, builder, logger.Discard())

	exec, err := r.Run(context.Background(), "post_task", map[string]any{"prompt": "say hi"})
	require.NoError(t, err)
	assert.Equal(t, "say hi", exec.Output())
	assert.Equal(t, []string{"agent"}, exec.Path)
}

func TestRunner_Errors(t *testing.T) {
	builder := workflow.NewBuilder(llm.NewErrorProvider(errors.New("offline")), nil, nil)

	_, err := NewRunner(failingDefs{}, builder, nil).Run(context.Background(), "x", nil)
	assert.ErrorContains(t, err, "disk on fire")

	broken := staticDefs{"x": {Name: "x"}}
	_, err = NewRunner(broken, builder, nil).Run(context.Background(), "x", nil)
	assert.ErrorContains(t, err, "failed to build")

	exec, err := NewRunner(staticDefs{}, builder, nil).Run(context.Background(), "x", nil)
	var verr *workflow.VertexError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "agent", verr.VertexID)
	assert.Equal(t, workflow.StateFailed, exec.Results["agent"].State)
}

func TestRunner_BodyUnderGuard(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ctx := context.Background()
	st, err := store.Open(ctx, filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	defer func() { _ = st.Close() }()

	sc, err := st.Create(ctx, store.NewSchedule{
		Name:         "daily",
		CronSchedule: "0 9 * * *",
		Enabled:      true,
		Params:       map[string]any{"topic": "gophers"},
		TaskType:     store.TaskTypePost,
	})
	require.NoError(t, err)

	transcripts, err := agent.NewTranscripts(filepath.Join(t.TempDir(), "transcripts"))
	require.NoError(t, err)

	builder := workflow.NewBuilder(llm.NewEchoProvider(), nil, logger.Discard())
	runner := NewRunner(staticDefs{}, builder, logger.Discard(), WithTranscripts(transcripts))

	pool := workers.NewPool(1, 4, logger.Discard(), workers.WithGuard(guard.New(st, logger.Discard())))
	runner.Register(pool, "post_task", "reply_task")
	assert.ElementsMatch(t, []string{"post_task", "reply_task"}, pool.TaskNames())
	pool.Start()
	defer pool.Stop()

	h, err := pool.Dispatch(ctx, workers.Request{TaskName: "post_task", Params: sc.Params, ScheduleID: sc.ID})
	require.NoError(t, err)
	require.NoError(t, h.Wait(waitCtx(t)))

	row, err := st.GetByID(ctx, sc.ID)
	require.NoError(t, err)
	assert.False(t, row.IsRunning)
	assert.NotNil(t, row.LastRun)
	assert.Equal(t, "post_task", row.State["workflow"])
	assert.Equal(t, `Carry out the "post_task" task on the topic: gophers.`, row.State["output"])
	assert.Equal(t, []any{"agent"}, row.State["path"])
	assert.Equal(t, "agent", row.State["last_vertex"])
	assert.Equal(t, "success", row.State["last_vertex_state"])
	assert.Equal(t, transcripts.Path(h.ID), row.State["transcript"])

	entries, err := transcripts.Read(h.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "assistant", entries[0].Role)
	assert.Equal(t, "user", entries[0].Sender)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 3))
	assert.Equal(t, "ab...", truncate("abc", 2))
	assert.Equal(t, "жж...", truncate("жжж", 2))
}
