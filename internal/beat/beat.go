// Package beat runs the scheduler's control loop.
//
// Each tick reaps stuck rows, revokes in-flight tasks whose schedule was
// disabled and dispatches every due schedule in ascending id order. Missed
// firings coalesce into a single dispatch.
package beat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aatumaykin/nexbeat/internal/cron"
	"github.com/aatumaykin/nexbeat/internal/logger"
	"github.com/aatumaykin/nexbeat/internal/metrics"
	"github.com/aatumaykin/nexbeat/internal/store"
	"github.com/aatumaykin/nexbeat/internal/workers"
)

// ErrAlreadyRunning is returned by RunNow for a schedule with a run in flight.
var ErrAlreadyRunning = errors.New("schedule is already running")

// ErrNoRoute is returned when neither the task type nor "other" has a route.
var ErrNoRoute = errors.New("no route for task type")

// Store is the part of the schedule store the loop uses.
type Store interface {
	ResetStuck(ctx context.Context, maxAge time.Duration) (int, error)
	GetActive(ctx context.Context) ([]*store.Schedule, error)
	GetRunning(ctx context.Context) ([]*store.Schedule, error)
	GetByID(ctx context.Context, id int64) (*store.Schedule, error)
	Update(ctx context.Context, id int64, p store.Patch) (bool, error)
}

// Dispatcher accepts work. *workers.WorkerPool implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, req workers.Request) (*workers.Handle, error)
}

// Revoker cancels in-flight work by handle id. Dispatchers that also
// implement it get their tasks cancelled when a schedule is disabled.
type Revoker interface {
	Cancel(id string) bool
}

// Config tunes the loop.
type Config struct {
	Tick      time.Duration     // polling period (default 5s)
	ReapAfter time.Duration     // stuck threshold (default 30m)
	Routes    map[string]string // task_type -> task name
	Location  *time.Location    // cron zone (default UTC)
	PokeFile  string            // touched by other processes to force a tick
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Tick <= 0 {
		out.Tick = 5 * time.Second
	}
	if out.ReapAfter <= 0 {
		out.ReapAfter = 30 * time.Minute
	}
	if out.Location == nil {
		out.Location = time.UTC
	}
	return out
}

// TickReport summarises one tick.
type TickReport struct {
	Reaped     int
	Revoked    int
	Dispatched int
	Failed     int
}

// Beat is the control loop.
type Beat struct {
	cfg     Config
	store   Store
	pool    Dispatcher
	logger  *logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	poke    chan struct{}
}

// Option configures a Beat.
type Option func(*Beat)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(b *Beat) { b.now = now }
}

// WithMetrics records Prometheus metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Beat) { b.metrics = m }
}

// New creates a Beat.
func New(st Store, pool Dispatcher, cfg Config, log *logger.Logger, opts ...Option) *Beat {
	b := &Beat{
		cfg:    cfg.withDefaults(),
		store:  st,
		pool:   pool,
		logger: log.Component("beat"),
		now:    time.Now,
		poke:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Poke requests an immediate tick. Pokes coalesce.
func (b *Beat) Poke() {
	select {
	case b.poke <- struct{}{}:
	default:
	}
}

// Tick runs one pass of the loop. Per-schedule failures are logged and
// counted; the returned error is non-nil only when the active schedules
// could not be listed.
func (b *Beat) Tick(ctx context.Context) (TickReport, error) {
	var rep TickReport
	start := time.Now()
	defer func() { b.metrics.BeatTick(time.Since(start)) }()

	n, err := b.store.ResetStuck(ctx, b.cfg.ReapAfter)
	if err != nil {
		b.logger.ErrorCtx(ctx, "reaper failed", err)
	} else if n > 0 {
		rep.Reaped = n
		b.metrics.BeatReaped(n)
		b.logger.WarnCtx(ctx, "reset stuck schedules",
			logger.Field{Key: "count", Value: n},
			logger.Field{Key: "older_than", Value: b.cfg.ReapAfter.String()})
	}

	rep.Revoked = b.revokeDisabled(ctx)

	active, err := b.store.GetActive(ctx)
	if err != nil {
		return rep, fmt.Errorf("list active schedules: %w", err)
	}

	now := b.now()
	for _, s := range active {
		if s.IsRunning {
			continue
		}
		due, err := b.isDue(s, now)
		if err != nil {
			b.logger.WarnCtx(ctx, "skipping schedule with bad cron",
				logger.Field{Key: "schedule_id", Value: s.ID},
				logger.Field{Key: "cron", Value: s.CronSchedule},
				logger.Field{Key: "error", Value: err})
			continue
		}
		if !due {
			continue
		}
		if _, err := b.dispatch(ctx, s, now, true); err != nil {
			rep.Failed++
			b.logger.ErrorCtx(ctx, "dispatch failed", err,
				logger.Field{Key: "schedule_id", Value: s.ID},
				logger.Field{Key: "name", Value: s.Name})
			continue
		}
		rep.Dispatched++
	}

	if rep.Dispatched > 0 || rep.Failed > 0 || rep.Revoked > 0 {
		b.logger.InfoCtx(ctx, "tick",
			logger.Field{Key: "dispatched", Value: rep.Dispatched},
			logger.Field{Key: "failed", Value: rep.Failed},
			logger.Field{Key: "revoked", Value: rep.Revoked},
			logger.Field{Key: "reaped", Value: rep.Reaped})
	}
	return rep, nil
}

// RunNow dispatches schedule id immediately, ignoring its cron expression
// and its enabled flag. next_run is left to the guard.
func (b *Beat) RunNow(ctx context.Context, id int64) (*workers.Handle, error) {
	s, err := b.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.IsRunning {
		return nil, fmt.Errorf("%w: %s (task %s)", ErrAlreadyRunning, s.Name, s.TaskID)
	}
	return b.dispatch(ctx, s, b.now(), false)
}

// isDue reports whether s has a firing in (last_run or created_at, now]
// that has not been dispatched yet.
//
// A schedule that never ran counts from created_at, not from the epoch,
// so a new row waits for its first firing instead of running at once.
// The next_run gate keeps a failed run, which leaves last_run untouched,
// from being dispatched again on every tick until the next firing.
func (b *Beat) isDue(s *store.Schedule, now time.Time) (bool, error) {
	from := s.CreatedAt
	if s.LastRun != nil {
		from = *s.LastRun
	}
	fired, err := cron.Due(s.CronSchedule, from, now, b.cfg.Location)
	if err != nil || !fired {
		return false, err
	}
	return s.NextRun == nil || !s.NextRun.After(now), nil
}

func (b *Beat) route(taskType string) (string, error) {
	if name, ok := b.cfg.Routes[taskType]; ok && name != "" {
		return name, nil
	}
	if name, ok := b.cfg.Routes[store.TaskTypeOther]; ok && name != "" {
		return name, nil
	}
	return "", fmt.Errorf("%w %q", ErrNoRoute, taskType)
}

func (b *Beat) dispatch(ctx context.Context, s *store.Schedule, now time.Time, advance bool) (*workers.Handle, error) {
	taskName, err := b.route(s.TaskType)
	if err != nil {
		b.metrics.BeatDispatch(s.TaskType, "failed")
		return nil, err
	}

	// The handle id exists before the row is flipped so a running row
	// always carries a task id.
	taskID := uuid.NewString()
	ok, err := b.store.Update(ctx, s.ID, store.Patch{IsRunning: store.Ptr(true), TaskID: store.Ptr(taskID)})
	if err != nil {
		b.metrics.BeatDispatch(s.TaskType, "failed")
		return nil, fmt.Errorf("mark running: %w", err)
	}
	if !ok {
		b.metrics.BeatDispatch(s.TaskType, "failed")
		return nil, fmt.Errorf("%w: id %d", store.ErrNotFound, s.ID)
	}

	h, err := b.pool.Dispatch(ctx, workers.Request{
		ID:         taskID,
		TaskName:   taskName,
		Params:     s.Params,
		ScheduleID: s.ID,
	})
	if err != nil {
		b.metrics.BeatDispatch(s.TaskType, "failed")
		if _, rerr := b.store.Update(ctx, s.ID, store.Patch{IsRunning: store.Ptr(false)}); rerr != nil {
			b.logger.ErrorCtx(ctx, "failed to revert running flag", rerr,
				logger.Field{Key: "schedule_id", Value: s.ID})
		}
		return nil, err
	}

	patch := store.Patch{TaskID: store.Ptr(h.ID)}
	if advance {
		if expr, perr := cron.Parse(s.CronSchedule); perr == nil {
			next := expr.Next(now, b.cfg.Location)
			patch.NextRun = &next
		}
	}
	if _, err := b.store.Update(ctx, s.ID, patch); err != nil {
		b.logger.ErrorCtx(ctx, "failed to record dispatch", err,
			logger.Field{Key: "schedule_id", Value: s.ID},
			logger.Field{Key: "task_id", Value: h.ID})
	}

	b.metrics.BeatDispatch(s.TaskType, "ok")
	b.logger.InfoCtx(ctx, "schedule dispatched",
		logger.Field{Key: "schedule_id", Value: s.ID},
		logger.Field{Key: "name", Value: s.Name},
		logger.Field{Key: "task_name", Value: taskName},
		logger.Field{Key: "task_id", Value: h.ID})
	return h, nil
}

// revokeDisabled cancels local in-flight tasks of schedules that were
// disabled while running. The guard clears the row when the body returns.
func (b *Beat) revokeDisabled(ctx context.Context) int {
	rv, ok := b.pool.(Revoker)
	if !ok {
		return 0
	}
	running, err := b.store.GetRunning(ctx)
	if err != nil {
		b.logger.ErrorCtx(ctx, "list running schedules", err)
		return 0
	}
	revoked := 0
	for _, s := range running {
		if s.Enabled || s.TaskID == "" {
			continue
		}
		if rv.Cancel(s.TaskID) {
			revoked++
			b.metrics.BeatRevoked()
			b.logger.InfoCtx(ctx, "revoked task of disabled schedule",
				logger.Field{Key: "schedule_id", Value: s.ID},
				logger.Field{Key: "task_id", Value: s.TaskID})
		}
	}
	return revoked
}
