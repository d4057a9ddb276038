// Package workers provides the goroutine pool that executes dispatched tasks.
//
// Tasks are routed by name to registered bodies. When the pool is given a
// guard every body runs inside it, so the schedule row is marked running on
// entry and cleaned up on every exit path.
package workers

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/aatumaykin/nexbeat/internal/guard"
)

// ErrDispatchFailed is returned when the pool refuses a request.
var ErrDispatchFailed = errors.New("dispatch failed")

// Request is one unit of work handed to the pool.
type Request struct {
	ID         string         // handle id; generated when empty
	TaskName   string         // registered body name
	Params     map[string]any // carried verbatim to the body
	ScheduleID int64          // 0 for ad-hoc runs
}

// Task is what a body receives.
type Task struct {
	Request
	Scope *guard.Scope // nil when the pool has no guard
}

// Body executes a task.
type Body func(ctx context.Context, task *Task) error

// Result describes a finished task.
type Result struct {
	TaskID   string
	TaskName string
	Error    error
	Duration time.Duration
}

// PoolMetrics tracks execution counters for the worker pool.
type PoolMetrics struct {
	TasksSubmitted uint64
	TasksCompleted uint64
	TasksFailed    uint64
	TasksCancelled uint64
	TotalDuration  time.Duration
}

// Handle is returned by Dispatch and retired when the task finishes.
type Handle struct {
	ID       string
	TaskName string

	done chan struct{}
	once sync.Once
	err  error
}

func newHandle(id, name string) *Handle {
	return &Handle{ID: id, TaskName: name, done: make(chan struct{})}
}

func (h *Handle) finish(err error) {
	h.once.Do(func() {
		h.err = err
		close(h.done)
	})
}

// Done is closed when the task has finished.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err returns the task's error once Done is closed.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Wait blocks until the task finishes or ctx is done.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Constants for worker pool configuration
const (
	DefaultPoolSize  = 4
	DefaultQueueSize = 64
)
