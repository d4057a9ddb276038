// Package app wires the scheduler components together from configuration.
// It builds the schedule store, the worker pool and its task bodies, the
// beat loop and the daemon supervisor, and runs them as one process.
package app

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/aatumaykin/nexbeat/internal/beat"
	"github.com/aatumaykin/nexbeat/internal/config"
	"github.com/aatumaykin/nexbeat/internal/daemon"
	"github.com/aatumaykin/nexbeat/internal/guard"
	"github.com/aatumaykin/nexbeat/internal/jobs"
	"github.com/aatumaykin/nexbeat/internal/llm"
	"github.com/aatumaykin/nexbeat/internal/logger"
	"github.com/aatumaykin/nexbeat/internal/metrics"
	"github.com/aatumaykin/nexbeat/internal/store"
	"github.com/aatumaykin/nexbeat/internal/tools"
	"github.com/aatumaykin/nexbeat/internal/workers"
	"github.com/aatumaykin/nexbeat/internal/workflow"
)

// MetricsNamespace prefixes every exported metric.
const MetricsNamespace = "nexbeat"

// App holds every component of a scheduler process.
type App struct {
	// Configuration and core services
	config     *config.Config
	configPath string
	logger     *logger.Logger

	// Persistence
	store *store.Store

	// Observability
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	// Task execution
	guard     *guard.Guard
	pool      *workers.WorkerPool
	toolkit   *tools.Toolkit
	provider  llm.Provider
	workflows *workflow.Loader
	runner    *jobs.Runner

	// Control plane
	beat       *beat.Beat
	supervisor *daemon.Supervisor
	spawner    daemon.Spawner
	procs      daemon.Processes
}

// Option configures an App.
type Option func(*App)

// WithConfigPath is passed to the detached scheduler process.
func WithConfigPath(path string) Option {
	return func(a *App) { a.configPath = path }
}

// WithProvider replaces the provider built from configuration.
func WithProvider(p llm.Provider) Option {
	return func(a *App) { a.provider = p }
}

// WithSpawner replaces the process spawner of the supervisor.
func WithSpawner(s daemon.Spawner) Option {
	return func(a *App) { a.spawner = s }
}

// WithProcesses replaces the process controller of the supervisor.
func WithProcesses(p daemon.Processes) Option {
	return func(a *App) { a.procs = p }
}

// Config returns the configuration the App was built from.
func (a *App) Config() *config.Config { return a.config }

// Store returns the schedule store.
func (a *App) Store() *store.Store { return a.store }

// Beat returns the beat loop.
func (a *App) Beat() *beat.Beat { return a.beat }

// Pool returns the worker pool.
func (a *App) Pool() *workers.WorkerPool { return a.pool }

// Runner returns the workflow job runner.
func (a *App) Runner() *jobs.Runner { return a.runner }

// Workflows returns the workflow definition loader.
func (a *App) Workflows() *workflow.Loader { return a.workflows }

// Supervisor returns the daemon supervisor.
func (a *App) Supervisor() *daemon.Supervisor { return a.supervisor }

// Registry returns the Prometheus registry holding the App's collectors.
func (a *App) Registry() *prometheus.Registry { return a.registry }

// Close stops the pool and releases the store.
func (a *App) Close() error {
	if a.pool != nil {
		a.pool.Stop()
	}
	return a.store.Close()
}
