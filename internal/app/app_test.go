package app

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aatumaykin/nexbeat/internal/config"
	"github.com/aatumaykin/nexbeat/internal/daemon"
	"github.com/aatumaykin/nexbeat/internal/llm"
	"github.com/aatumaykin/nexbeat/internal/logger"
	"github.com/aatumaykin/nexbeat/internal/store"
)

type fakeProcs struct {
	mu    sync.Mutex
	alive map[int]bool
}

func (p *fakeProcs) Alive(pid int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.alive[pid]
}

func (p *fakeProcs) Terminate(pid int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.alive, pid)
	return nil
}

func (p *fakeProcs) Kill(pid int) error { return p.Terminate(pid) }

type fakeSpawner struct {
	procs *fakeProcs
	pid   int
}

func (s *fakeSpawner) Spawn(context.Context) (int, error) {
	s.procs.mu.Lock()
	defer s.procs.mu.Unlock()
	s.procs.alive[s.pid] = true
	return s.pid, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Store.Path = filepath.Join(dir, "nexbeat.db")
	cfg.Scheduler.PokeFile = filepath.Join(dir, "beat.poke")
	cfg.Workflows.Dir = filepath.Join(dir, "workflows")
	cfg.Agent.Provider = config.ProviderMock
	cfg.Tools.Fetch.Enabled = false
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config, opts ...Option) *App {
	t.Helper()
	procs := &fakeProcs{alive: map[int]bool{os.Getpid(): true}}
	opts = append([]Option{
		WithProcesses(procs),
		WithSpawner(&fakeSpawner{procs: procs, pid: 4242}),
	}, opts...)
	a, err := New(context.Background(), cfg, logger.Discard(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestNew_RegistersRoutedTasks(t *testing.T) {
	cfg := testConfig(t)
	a := newTestApp(t, cfg)

	assert.Equal(t, cfg.TaskNames(), a.Pool().TaskNames())
	assert.Equal(t, cfg, a.Config())
	assert.NotNil(t, a.Registry())

	names, err := a.Workflows().List()
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestNew_BrokenWorkflowFails(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.MkdirAll(cfg.Workflows.Dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Workflows.Dir, "bad.yaml"), []byte("name: [unclosed"), 0o600))

	_, err := New(context.Background(), cfg, logger.Discard())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load workflows")
}

func TestNew_UnknownProvider(t *testing.T) {
	cfg := testConfig(t)
	cfg.Agent.Provider = "zai"

	_, err := New(context.Background(), cfg, logger.Discard())
	assert.ErrorContains(t, err, "unsupported LLM provider")
}

func TestApp_RunNow(t *testing.T) {
	a := newTestApp(t, testConfig(t))
	ctx := waitCtx(t)

	sc, err := a.Store().Create(ctx, store.NewSchedule{
		Name:         "weekly",
		CronSchedule: "0 9 * * 1",
		Enabled:      false,
		Params:       map[string]any{"topic": "release notes"},
		TaskType:     store.TaskTypePost,
	})
	require.NoError(t, err)

	require.NoError(t, a.RunNow(ctx, sc.ID))

	row, err := a.Store().GetByID(ctx, sc.ID)
	require.NoError(t, err)
	assert.False(t, row.IsRunning)
	assert.Nil(t, row.PID)
	assert.NotNil(t, row.LastRun)
	assert.Equal(t, "post_task", row.State["workflow"])
	assert.Equal(t, `Carry out the "post_task" task on the topic: release notes.`, row.State["output"])
}

func TestApp_RunNowUnknownSchedule(t *testing.T) {
	a := newTestApp(t, testConfig(t))
	assert.ErrorIs(t, a.RunNow(waitCtx(t), 999), store.ErrNotFound)
}

func TestApp_RunWorkflow(t *testing.T) {
	provider := llm.NewScriptedProvider(llm.TextReply(`{"FINAL_ANSWER": "drafted"}`))
	a := newTestApp(t, testConfig(t), WithProvider(provider))

	exec, err := a.RunWorkflow(waitCtx(t), "generic_task", map[string]any{"prompt": "draft a post"})
	require.NoError(t, err)
	assert.Equal(t, "drafted", exec.Output())
	assert.Equal(t, 1, provider.CallCount())
}

func TestApp_ServeClaimsAndReleasesPID(t *testing.T) {
	a := newTestApp(t, testConfig(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx) }()

	want := strconv.Itoa(os.Getpid())
	require.Eventually(t, func() bool {
		v, err := a.Store().GetSetting(context.Background(), store.SettingSchedulerPID)
		return err == nil && v == want
	}, 2*time.Second, 10*time.Millisecond)

	pid, running, err := a.Supervisor().IsRunning(context.Background())
	require.NoError(t, err)
	assert.True(t, running)
	assert.Equal(t, os.Getpid(), pid)

	_, err = a.Supervisor().Start(context.Background(), false)
	assert.ErrorIs(t, err, daemon.ErrSchedulerAlreadyRunning)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}

	_, err = a.Store().GetSetting(context.Background(), store.SettingSchedulerPID)
	assert.ErrorIs(t, err, store.ErrSettingNotFound)
}

func TestApp_ServeRefusesWhenAnotherSchedulerLives(t *testing.T) {
	cfg := testConfig(t)
	a := newTestApp(t, cfg)
	ctx := waitCtx(t)

	pid, err := a.Supervisor().Start(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 4242, pid)

	assert.Error(t, a.Serve(ctx))
}

func TestNewSpawner(t *testing.T) {
	cfg := testConfig(t)
	cfg.Daemon.LogFile = "/tmp/nexbeat.log"

	s := NewSpawner(cfg, "/etc/nexbeat.toml")
	assert.Equal(t, []string{"scheduler", "serve", "--config", "/etc/nexbeat.toml"}, s.Args)
	assert.Equal(t, "/tmp/nexbeat.log", s.LogFile)

	assert.Equal(t, []string{"scheduler", "serve"}, NewSpawner(cfg, "").Args)
}
