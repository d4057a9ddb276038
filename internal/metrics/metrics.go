// Package metrics holds the Prometheus collectors of the beat loop and the worker pool.
//
// Every recording method is safe on a nil *Metrics so components can run
// without instrumentation.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Task outcome labels.
const (
	StatusSuccess   = "success"
	StatusFailure   = "failure"
	StatusCrash     = "crash"
	StatusCancelled = "cancelled"
)

// Metrics groups the collectors.
type Metrics struct {
	tasksDispatched *prometheus.CounterVec
	tasksFinished   *prometheus.CounterVec
	taskDuration    *prometheus.HistogramVec
	queueDepth      prometheus.Gauge
	tasksRunning    prometheus.Gauge

	beatTicks        prometheus.Counter
	beatTickDuration prometheus.Histogram
	beatDispatches   *prometheus.CounterVec
	beatReaped       prometheus.Counter
	beatRevoked      prometheus.Counter
}

// New creates the collectors and registers them on reg.
// A nil reg means prometheus.DefaultRegisterer.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		tasksDispatched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "worker_tasks_dispatched_total",
				Help:      "Tasks accepted by the worker pool",
			},
			[]string{"task_name"},
		),
		tasksFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "worker_tasks_finished_total",
				Help:      "Tasks finished by the worker pool",
			},
			[]string{"task_name", "status"},
		),
		taskDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "worker_task_duration_seconds",
				Help:      "Duration of worker tasks",
				Buckets:   []float64{.1, .5, 1, 5, 10, 30, 60, 120, 300, 900},
			},
			[]string{"task_name"},
		),
		queueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "worker_queue_depth",
				Help:      "Tasks waiting for a worker",
			},
		),
		tasksRunning: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "worker_tasks_running",
				Help:      "Tasks currently executing",
			},
		),
		beatTicks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "beat_ticks_total",
				Help:      "Completed beat loop ticks",
			},
		),
		beatTickDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "beat_tick_duration_seconds",
				Help:      "Duration of a beat loop tick",
				Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5},
			},
		),
		beatDispatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "beat_dispatches_total",
				Help:      "Dispatch attempts made by the beat loop",
			},
			[]string{"task_type", "result"},
		),
		beatReaped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "beat_reaped_total",
				Help:      "Stuck schedules reset by the reaper",
			},
		),
		beatRevoked: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "beat_revoked_total",
				Help:      "In-flight tasks cancelled because their schedule was disabled",
			},
		),
	}

	reg.MustRegister(
		m.tasksDispatched,
		m.tasksFinished,
		m.taskDuration,
		m.queueDepth,
		m.tasksRunning,
		m.beatTicks,
		m.beatTickDuration,
		m.beatDispatches,
		m.beatReaped,
		m.beatRevoked,
	)

	return m
}

func (m *Metrics) TaskDispatched(taskName string) {
	if m == nil {
		return
	}
	m.tasksDispatched.WithLabelValues(taskName).Inc()
}

func (m *Metrics) TaskStarted() {
	if m == nil {
		return
	}
	m.tasksRunning.Inc()
}

func (m *Metrics) TaskFinished(taskName, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.tasksRunning.Dec()
	m.tasksFinished.WithLabelValues(taskName, status).Inc()
	m.taskDuration.WithLabelValues(taskName).Observe(d.Seconds())
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

func (m *Metrics) BeatTick(d time.Duration) {
	if m == nil {
		return
	}
	m.beatTicks.Inc()
	m.beatTickDuration.Observe(d.Seconds())
}

// BeatDispatch records one dispatch attempt; result is "ok" or "failed".
func (m *Metrics) BeatDispatch(taskType, result string) {
	if m == nil {
		return
	}
	m.beatDispatches.WithLabelValues(taskType, result).Inc()
}

func (m *Metrics) BeatReaped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.beatReaped.Add(float64(n))
}

func (m *Metrics) BeatRevoked() {
	if m == nil {
		return
	}
	m.beatRevoked.Inc()
}

// Handler exposes g in the Prometheus text and OpenMetrics formats.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Serve serves /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(g))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
