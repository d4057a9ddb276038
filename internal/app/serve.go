package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/aatumaykin/nexbeat/internal/logger"
	"github.com/aatumaykin/nexbeat/internal/metrics"
	"github.com/aatumaykin/nexbeat/internal/workflow"
)

// Serve runs the scheduler in the foreground until ctx is done. It claims
// the scheduler PID for this process, runs the worker pool and the beat
// loop, and serves metrics when an address is configured. The PID row is
// released on return.
func (a *App) Serve(ctx context.Context) error {
	pid := os.Getpid()
	if err := a.supervisor.Claim(ctx, pid); err != nil {
		return err
	}
	defer func() {
		if err := a.supervisor.Release(context.WithoutCancel(ctx), pid); err != nil {
			a.logger.Error("failed to release scheduler pid", err)
		}
	}()

	a.logger.Info("Scheduler is running", logger.Field{Key: "pid", Value: pid})

	a.pool.Start()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.beat.Run(gctx) })
	g.Go(func() error { return a.pool.Run(gctx) })
	if addr := a.config.Daemon.MetricsAddr; addr != "" {
		g.Go(func() error {
			a.logger.Info("Metrics endpoint listening", logger.Field{Key: "addr", Value: addr})
			if err := metrics.Serve(gctx, addr, a.registry); err != nil {
				return fmt.Errorf("metrics endpoint: %w", err)
			}
			return nil
		})
	}

	err := g.Wait()
	a.logger.Info("Scheduler stopped")
	return err
}

// RunNow dispatches schedule id at once, ignoring its cron expression, and
// waits for the run to finish.
func (a *App) RunNow(ctx context.Context, id int64) error {
	a.pool.Start()
	h, err := a.beat.RunNow(ctx, id)
	if err != nil {
		return err
	}
	return h.Wait(ctx)
}

// RunWorkflow executes the workflow for taskName without a schedule.
func (a *App) RunWorkflow(ctx context.Context, taskName string, params map[string]any) (*workflow.Execution, error) {
	exec, err := a.runner.Run(ctx, taskName, params)
	var verr *workflow.VertexError
	if errors.As(err, &verr) {
		a.logger.Warn("workflow stopped at vertex",
			logger.Field{Key: "task", Value: taskName},
			logger.Field{Key: "vertex", Value: verr.VertexID})
	}
	return exec, err
}
