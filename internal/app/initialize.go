package app

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/aatumaykin/nexbeat/internal/agent"
	"github.com/aatumaykin/nexbeat/internal/app/builders"
	"github.com/aatumaykin/nexbeat/internal/beat"
	"github.com/aatumaykin/nexbeat/internal/config"
	"github.com/aatumaykin/nexbeat/internal/daemon"
	"github.com/aatumaykin/nexbeat/internal/guard"
	"github.com/aatumaykin/nexbeat/internal/jobs"
	"github.com/aatumaykin/nexbeat/internal/logger"
	"github.com/aatumaykin/nexbeat/internal/metrics"
	"github.com/aatumaykin/nexbeat/internal/store"
	"github.com/aatumaykin/nexbeat/internal/workers"
	"github.com/aatumaykin/nexbeat/internal/workflow"
)

// New builds every component from cfg. The worker pool is not started;
// Serve and RunNow start it.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger, opts ...Option) (*App, error) {
	a := &App{config: cfg, logger: log}
	for _, opt := range opts {
		opt(a)
	}
	if err := a.initialize(ctx); err != nil {
		if a.store != nil {
			_ = a.store.Close()
		}
		return nil, err
	}
	return a, nil
}

func (a *App) initialize(ctx context.Context) error {
	cfg := a.config
	loc := cfg.Location()

	// 1. Open the schedule store
	st, err := store.Open(ctx, cfg.Store.Path, store.WithLocation(loc))
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	a.store = st

	// 2. Metrics on a private registry
	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = metrics.New(MetricsNamespace, a.registry)

	// 3. Guard and worker pool
	a.guard = guard.New(st, a.logger, guard.WithLocation(loc))
	poolOpts := []workers.Option{
		workers.WithGuard(a.guard),
		workers.WithMetrics(a.metrics),
	}
	if s := cfg.Workers.TaskTimeoutSeconds; s > 0 {
		poolOpts = append(poolOpts, workers.WithTaskTimeout(time.Duration(s)*time.Second))
	}
	a.pool = workers.NewPool(cfg.Workers.PoolSize, cfg.Workers.QueueSize, a.logger, poolOpts...)

	// 4. Tools
	a.toolkit, err = builders.NewToolsBuilder(cfg, a.logger, st).Build()
	if err != nil {
		return err
	}

	// 5. LLM provider
	if a.provider == nil {
		a.provider, err = builders.NewLLMBuilder(cfg, a.logger).Build()
		if err != nil {
			return err
		}
	}

	// 6. Workflow definitions; a broken file fails startup
	a.workflows = workflow.NewLoader(cfg.Workflows.Dir)
	if _, err := a.workflows.Load(); err != nil {
		return fmt.Errorf("failed to load workflows: %w", err)
	}
	builder := workflow.NewBuilder(a.provider, a.toolkit, a.logger,
		workflow.WithRoleDefaults(agent.Config{
			Model:          cfg.Agent.Model,
			MaxTokens:      cfg.Agent.MaxTokens,
			Temperature:    cfg.Agent.Temperature,
			MaxReactLoop:   cfg.Agent.MaxReactLoop,
			MaxCorrections: cfg.Agent.MaxCorrections,
		}))

	// 7. Job runner, one body per routed task name
	var runnerOpts []jobs.Option
	if cfg.Agent.TranscriptsDir != "" {
		tr, err := agent.NewTranscripts(cfg.Agent.TranscriptsDir)
		if err != nil {
			return fmt.Errorf("failed to open transcripts: %w", err)
		}
		runnerOpts = append(runnerOpts, jobs.WithTranscripts(tr))
	}
	a.runner = jobs.NewRunner(a.workflows, builder, a.logger, runnerOpts...)
	a.runner.Register(a.pool, cfg.TaskNames()...)

	// 8. Beat loop
	a.beat = beat.New(st, a.pool, beat.Config{
		Tick:      cfg.Tick(),
		ReapAfter: cfg.ReapAfter(),
		Routes:    cfg.Scheduler.Routes,
		Location:  loc,
		PokeFile:  cfg.Scheduler.PokeFile,
	}, a.logger, beat.WithMetrics(a.metrics))

	// 9. Daemon supervisor
	if a.spawner == nil {
		a.spawner = NewSpawner(cfg, a.configPath)
	}
	if a.procs == nil {
		a.procs = daemon.OSProcesses{}
	}
	a.supervisor = NewSupervisor(st, a.spawner, a.procs, cfg, a.logger)

	a.logger.Info("Application initialized",
		logger.Field{Key: "store", Value: cfg.Store.Path},
		logger.Field{Key: "tasks", Value: a.pool.TaskNames()},
		logger.Field{Key: "tools", Value: a.toolkit.Names()})
	return nil
}

// NewSpawner returns the spawner that starts "scheduler serve" detached,
// logging to the configured daemon log file.
func NewSpawner(cfg *config.Config, configPath string) daemon.ExecSpawner {
	args := []string{"scheduler", "serve"}
	if configPath != "" {
		args = append(args, "--config", configPath)
	}
	return daemon.ExecSpawner{Args: args, LogFile: cfg.Daemon.LogFile}
}

// NewSupervisor builds a supervisor from configuration.
func NewSupervisor(st daemon.Store, spawner daemon.Spawner, procs daemon.Processes, cfg *config.Config, log *logger.Logger) *daemon.Supervisor {
	return daemon.New(st, spawner, procs, daemon.Config{
		StopTimeout: time.Duration(cfg.Daemon.StopTimeoutSeconds) * time.Second,
		PokeFile:    cfg.Scheduler.PokeFile,
	}, log)
}
