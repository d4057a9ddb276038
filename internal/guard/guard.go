// Package guard keeps a schedule's in-flight markers honest around a task body.
//
// Run marks the schedule running on entry and clears the markers on every
// exit path: normal return, returned error and panic. Only a successful
// run advances last_run.
package guard

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/aatumaykin/nexbeat/internal/cron"
	"github.com/aatumaykin/nexbeat/internal/logger"
	"github.com/aatumaykin/nexbeat/internal/store"
)

var (
	// ErrTaskCrash matches every TaskCrashError.
	ErrTaskCrash = errors.New("task crashed")
	// ErrNoRef is returned when neither a task id nor a schedule id is given.
	ErrNoRef = errors.New("guard needs a task id or a schedule id")
)

// TaskCrashError carries a panic recovered from a task body.
type TaskCrashError struct {
	Value any
	Stack []byte
}

func (e *TaskCrashError) Error() string {
	return fmt.Sprintf("task crashed: %v", e.Value)
}

// Is reports whether target is ErrTaskCrash.
func (e *TaskCrashError) Is(target error) bool {
	return target == ErrTaskCrash
}

// Store is the subset of the schedule store the guard writes to.
type Store interface {
	GetByID(ctx context.Context, id int64) (*store.Schedule, error)
	GetByTaskID(ctx context.Context, taskID string) (*store.Schedule, error)
	Update(ctx context.Context, id int64, p store.Patch) (bool, error)
}

// Ref identifies the schedule a task runs for. At least one field must be set.
type Ref struct {
	TaskID     string
	ScheduleID int64
}

// Body is a guarded task body.
type Body func(ctx context.Context, sc *Scope) error

// Guard wraps task bodies.
type Guard struct {
	store  Store
	logger *logger.Logger
	now    func() time.Time
	loc    *time.Location
	pid    int
}

// Option configures a Guard.
type Option func(*Guard)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) { g.now = now }
}

// WithLocation sets the zone next_run is computed in.
func WithLocation(loc *time.Location) Option {
	return func(g *Guard) {
		if loc != nil {
			g.loc = loc
		}
	}
}

// WithPID overrides the PID written on entry.
func WithPID(pid int) Option {
	return func(g *Guard) { g.pid = pid }
}

// New creates a Guard.
func New(st Store, log *logger.Logger, opts ...Option) *Guard {
	g := &Guard{
		store:  st,
		logger: log.Component("guard"),
		now:    time.Now,
		loc:    time.UTC,
		pid:    os.Getpid(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Run executes body inside the guard. The error returned is the body's own
// error, or a *TaskCrashError when the body panicked.
func (g *Guard) Run(ctx context.Context, ref Ref, body Body) (err error) {
	if ref.TaskID == "" && ref.ScheduleID == 0 {
		return ErrNoRef
	}

	// Row writes must land even when the task's context was cancelled.
	storeCtx := context.WithoutCancel(ctx)

	sc := g.enter(storeCtx, ref)
	if sc.schedule == nil {
		return invoke(ctx, sc, body)
	}

	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("guard exit panicked", fmt.Errorf("panic: %v", r),
				logger.Field{Key: "schedule_id", Value: sc.schedule.ID})
			g.safetyNet(storeCtx, sc)
		}
	}()

	err = invoke(ctx, sc, body)
	if exitErr := g.exit(storeCtx, sc, err); exitErr != nil {
		g.logger.Error("guard exit write failed", exitErr,
			logger.Field{Key: "schedule_id", Value: sc.schedule.ID})
		g.safetyNet(storeCtx, sc)
	}
	return err
}

func (g *Guard) enter(ctx context.Context, ref Ref) *Scope {
	sc := &Scope{guard: g, taskID: ref.TaskID, start: g.now()}

	var (
		sched *store.Schedule
		err   error
	)
	if ref.ScheduleID != 0 {
		sched, err = g.store.GetByID(ctx, ref.ScheduleID)
	} else {
		sched, err = g.store.GetByTaskID(ctx, ref.TaskID)
	}
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			g.logger.WarnCtx(ctx, "schedule not found, running unguarded",
				logger.Field{Key: "schedule_id", Value: ref.ScheduleID},
				logger.Field{Key: "task_id", Value: ref.TaskID})
		} else {
			g.logger.ErrorCtx(ctx, "failed to load schedule, running unguarded", err,
				logger.Field{Key: "schedule_id", Value: ref.ScheduleID},
				logger.Field{Key: "task_id", Value: ref.TaskID})
		}
		return sc
	}

	taskID := ref.TaskID
	if taskID == "" {
		taskID = sched.TaskID
	}
	if taskID == "" {
		taskID = uuid.NewString()
	}
	sc.taskID = taskID

	ok, err := g.store.Update(ctx, sched.ID, store.Patch{
		IsRunning: store.Ptr(true),
		PID:       store.Ptr(g.pid),
		TaskID:    store.Ptr(taskID),
	})
	if err != nil || !ok {
		g.logger.WarnCtx(ctx, "failed to mark schedule running, running unguarded",
			logger.Field{Key: "schedule_id", Value: sched.ID},
			logger.Field{Key: "error", Value: err})
		return sc
	}

	sc.schedule = sched
	g.logger.DebugCtx(ctx, "guard entered",
		logger.Field{Key: "schedule_id", Value: sched.ID},
		logger.Field{Key: "task_id", Value: taskID},
		logger.Field{Key: "pid", Value: g.pid})
	return sc
}

func (g *Guard) exit(ctx context.Context, sc *Scope, runErr error) error {
	patch := store.Patch{IsRunning: store.Ptr(false)}

	if runErr == nil {
		start := sc.start
		patch.LastRun = &start
		if expr, err := cron.Parse(sc.schedule.CronSchedule); err == nil {
			next := expr.Next(g.now(), g.loc)
			patch.NextRun = &next
		}
		patch.State = sc.pendingState()
	}

	if _, err := g.store.Update(ctx, sc.schedule.ID, patch); err != nil {
		return err
	}

	fields := []logger.Field{
		{Key: "schedule_id", Value: sc.schedule.ID},
		{Key: "task_id", Value: sc.taskID},
		{Key: "duration_ms", Value: g.now().Sub(sc.start).Milliseconds()},
	}
	if runErr != nil {
		g.logger.WarnCtx(ctx, "guarded task failed", append(fields, logger.Field{Key: "error", Value: runErr})...)
	} else {
		g.logger.DebugCtx(ctx, "guarded task succeeded", fields...)
	}
	return nil
}

func (g *Guard) safetyNet(ctx context.Context, sc *Scope) {
	if _, err := g.store.Update(ctx, sc.schedule.ID, store.Patch{IsRunning: store.Ptr(false)}); err != nil {
		g.logger.Error("guard safety net failed", err,
			logger.Field{Key: "schedule_id", Value: sc.schedule.ID})
	}
}

func invoke(ctx context.Context, sc *Scope, body Body) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &TaskCrashError{Value: r, Stack: debug.Stack()}
		}
	}()
	return body(ctx, sc)
}
