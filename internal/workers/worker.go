package workers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aatumaykin/nexbeat/internal/guard"
	"github.com/aatumaykin/nexbeat/internal/logger"
	"github.com/aatumaykin/nexbeat/internal/metrics"
)

// worker is the main worker goroutine that processes tasks from the queue.
func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()

	p.logger.DebugCtx(p.ctx, "worker started",
		logger.Field{Key: "worker_id", Value: id})

	for {
		select {
		case qt := <-p.taskQueue:
			p.processTask(id, qt)

		case <-p.ctx.Done():
			p.logger.DebugCtx(p.ctx, "worker stopping",
				logger.Field{Key: "worker_id", Value: id})
			return
		}
	}
}

// processTask handles a single task execution with metrics and error handling.
func (p *WorkerPool) processTask(workerID int, qt queuedTask) {
	startTime := time.Now()
	req := qt.req
	defer qt.cancel()

	p.prom.SetQueueDepth(len(p.taskQueue))
	p.prom.TaskStarted()

	p.logger.DebugCtx(qt.ctx, "processing task",
		logger.Field{Key: "worker_id", Value: workerID},
		logger.Field{Key: "task_id", Value: req.ID},
		logger.Field{Key: "task_name", Value: req.TaskName})

	err := p.executeTask(qt.ctx, req)
	result := Result{TaskID: req.ID, TaskName: req.TaskName, Error: err, Duration: time.Since(startTime)}

	status := metrics.StatusSuccess
	switch {
	case err == nil:
		p.incrementCompleted()
	case errors.Is(err, context.Canceled):
		status = metrics.StatusCancelled
		p.incrementCancelled()
	case errors.Is(err, guard.ErrTaskCrash):
		status = metrics.StatusCrash
		p.incrementFailed()
	default:
		status = metrics.StatusFailure
		p.incrementFailed()
	}
	p.recordDuration(result.Duration)
	p.prom.TaskFinished(req.TaskName, status, result.Duration)

	if err != nil {
		p.logger.WarnCtx(qt.ctx, "task failed",
			logger.Field{Key: "worker_id", Value: workerID},
			logger.Field{Key: "task_id", Value: req.ID},
			logger.Field{Key: "task_name", Value: req.TaskName},
			logger.Field{Key: "status", Value: status},
			logger.Field{Key: "error", Value: err})
	} else {
		p.logger.DebugCtx(qt.ctx, "task processed",
			logger.Field{Key: "worker_id", Value: workerID},
			logger.Field{Key: "task_id", Value: req.ID},
			logger.Field{Key: "duration_ms", Value: result.Duration.Milliseconds()})
	}

	p.forget(req.ID)
	qt.handle.finish(err)
	if p.onResult != nil {
		p.onResult(result)
	}
}

// executeTask runs the registered body, inside the guard when one is set.
func (p *WorkerPool) executeTask(ctx context.Context, req Request) error {
	body, ok := p.body(req.TaskName)
	if !ok {
		return fmt.Errorf("%w: unknown task %q", ErrDispatchFailed, req.TaskName)
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	run := func(ctx context.Context, scope *guard.Scope) error {
		// A task revoked while queued still passes through the guard so
		// the row's markers are cleared, but its body never starts.
		if err := ctx.Err(); err != nil {
			return err
		}
		return body(ctx, &Task{Request: req, Scope: scope})
	}

	if p.guard == nil || req.ScheduleID == 0 {
		return callUnguarded(ctx, run)
	}
	return p.guard.Run(ctx, guard.Ref{TaskID: req.ID, ScheduleID: req.ScheduleID}, run)
}

func callUnguarded(ctx context.Context, run guard.Body) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &guard.TaskCrashError{Value: r}
		}
	}()
	return run(ctx, nil)
}
