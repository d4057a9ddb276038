// Package daemon starts and stops the detached scheduler process.
//
// The PID of the live scheduler is kept in the store's system settings.
// Both the supervisor and the scheduler process itself claim that row with
// an insert-if-absent, so two scheduler processes never hold it at once.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/aatumaykin/nexbeat/internal/logger"
	"github.com/aatumaykin/nexbeat/internal/store"
)

var ErrSchedulerAlreadyRunning = errors.New("scheduler is already running")

const (
	DefaultStopTimeout  = 5 * time.Second
	DefaultPollInterval = 100 * time.Millisecond
)

// Store is the subset of the schedule store the supervisor uses.
type Store interface {
	GetSetting(ctx context.Context, key string) (string, error)
	ClaimSetting(ctx context.Context, key, value string) (bool, error)
	DeleteSettingIf(ctx context.Context, key, value string) (bool, error)
}

// Spawner starts the scheduler process and returns its PID.
type Spawner interface {
	Spawn(ctx context.Context) (int, error)
}

// Processes inspects and signals OS processes.
type Processes interface {
	Alive(pid int) bool
	Terminate(pid int) error
	Kill(pid int) error
}

// Config tunes the supervisor.
type Config struct {
	StopTimeout  time.Duration
	PollInterval time.Duration
	// PokeFile is touched to make a live beat loop tick at once.
	PokeFile string
}

// Supervisor owns the scheduler process lifecycle.
type Supervisor struct {
	store   Store
	spawner Spawner
	procs   Processes
	cfg     Config
	logger  *logger.Logger
}

// New creates a Supervisor.
func New(st Store, spawner Spawner, procs Processes, cfg Config, log *logger.Logger) *Supervisor {
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Supervisor{
		store:   st,
		spawner: spawner,
		procs:   procs,
		cfg:     cfg,
		logger:  log.Component("daemon"),
	}
}

// Start spawns the scheduler process unless a live one is recorded.
// With activate the new process is poked to tick at once.
func (s *Supervisor) Start(ctx context.Context, activate bool) (int, error) {
	if pid, ok, err := s.IsRunning(ctx); err != nil {
		return 0, err
	} else if ok {
		return pid, fmt.Errorf("%w (pid %d)", ErrSchedulerAlreadyRunning, pid)
	}

	pid, err := s.spawner.Spawn(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to spawn scheduler: %w", err)
	}

	if err := s.Claim(ctx, pid); err != nil {
		// Another start won the race; the child must not outlive it.
		if kerr := s.procs.Kill(pid); kerr != nil {
			s.logger.WarnCtx(ctx, "failed to kill surplus scheduler",
				logger.Field{Key: "pid", Value: pid},
				logger.Field{Key: "error", Value: kerr})
		}
		return 0, err
	}

	s.logger.InfoCtx(ctx, "scheduler started", logger.Field{Key: "pid", Value: pid})
	if activate {
		if err := s.Poke(); err != nil {
			s.logger.WarnCtx(ctx, "failed to poke scheduler", logger.Field{Key: "error", Value: err})
		}
	}
	return pid, nil
}

// Stop terminates the recorded scheduler: a graceful signal first, a kill
// after StopTimeout. The PID row is cleared on success. A recorded process
// that no longer exists counts as stopped, and so does an absent row.
func (s *Supervisor) Stop(ctx context.Context) error {
	pid, ok, err := s.recordedPID(ctx)
	if err != nil {
		return err
	}
	if !ok {
		s.logger.DebugCtx(ctx, "no scheduler recorded, nothing to stop")
		return nil
	}

	if s.procs.Alive(pid) {
		if err := s.terminate(ctx, pid); err != nil {
			return err
		}
	} else {
		s.logger.InfoCtx(ctx, "recorded scheduler is gone, clearing", logger.Field{Key: "pid", Value: pid})
	}

	if _, err := s.store.DeleteSettingIf(ctx, store.SettingSchedulerPID, strconv.Itoa(pid)); err != nil {
		return err
	}
	return nil
}

func (s *Supervisor) terminate(ctx context.Context, pid int) error {
	s.logger.InfoCtx(ctx, "stopping scheduler", logger.Field{Key: "pid", Value: pid})
	if err := s.procs.Terminate(pid); err != nil && s.procs.Alive(pid) {
		return fmt.Errorf("failed to signal scheduler %d: %w", pid, err)
	}
	if s.waitExit(ctx, pid, s.cfg.StopTimeout) {
		return nil
	}

	s.logger.WarnCtx(ctx, "scheduler ignored termination, killing",
		logger.Field{Key: "pid", Value: pid},
		logger.Field{Key: "timeout", Value: s.cfg.StopTimeout})
	if err := s.procs.Kill(pid); err != nil && s.procs.Alive(pid) {
		return fmt.Errorf("failed to kill scheduler %d: %w", pid, err)
	}
	if !s.waitExit(ctx, pid, s.cfg.StopTimeout) {
		return fmt.Errorf("scheduler %d survived a kill", pid)
	}
	return nil
}

// waitExit polls until pid is gone, the timeout passes or ctx is done.
func (s *Supervisor) waitExit(ctx context.Context, pid int, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if !s.procs.Alive(pid) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return !s.procs.Alive(pid)
		case <-ticker.C:
		}
	}
}

// IsRunning reports the recorded PID and whether it is alive. A dead
// recorded PID is cleared.
func (s *Supervisor) IsRunning(ctx context.Context) (int, bool, error) {
	pid, ok, err := s.recordedPID(ctx)
	if err != nil || !ok {
		return 0, false, err
	}
	if s.procs.Alive(pid) {
		return pid, true, nil
	}
	if _, err := s.store.DeleteSettingIf(ctx, store.SettingSchedulerPID, strconv.Itoa(pid)); err != nil {
		return 0, false, err
	}
	s.logger.DebugCtx(ctx, "cleared stale scheduler pid", logger.Field{Key: "pid", Value: pid})
	return 0, false, nil
}

// Claim records pid as the scheduler. Claiming a row that already holds
// pid succeeds; a row held by another live process fails with
// ErrSchedulerAlreadyRunning; a row held by a dead process is taken over.
func (s *Supervisor) Claim(ctx context.Context, pid int) error {
	value := strconv.Itoa(pid)
	for range 3 {
		ok, err := s.store.ClaimSetting(ctx, store.SettingSchedulerPID, value)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		holder, found, err := s.recordedPID(ctx)
		if err != nil {
			return err
		}
		switch {
		case !found:
			continue
		case holder == pid:
			return nil
		case s.procs.Alive(holder):
			return fmt.Errorf("%w (pid %d)", ErrSchedulerAlreadyRunning, holder)
		}
		if _, err := s.store.DeleteSettingIf(ctx, store.SettingSchedulerPID, strconv.Itoa(holder)); err != nil {
			return err
		}
	}
	return fmt.Errorf("failed to claim scheduler pid: row keeps changing")
}

// Release clears the PID row if it still holds pid.
func (s *Supervisor) Release(ctx context.Context, pid int) error {
	_, err := s.store.DeleteSettingIf(ctx, store.SettingSchedulerPID, strconv.Itoa(pid))
	return err
}

// Poke touches the poke file so a live beat loop ticks at once.
func (s *Supervisor) Poke() error {
	if s.cfg.PokeFile == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.cfg.PokeFile), 0o755); err != nil {
		return fmt.Errorf("failed to create poke directory: %w", err)
	}
	stamp := time.Now().UTC().Format(time.RFC3339Nano) + "\n"
	if err := os.WriteFile(s.cfg.PokeFile, []byte(stamp), 0o644); err != nil {
		return fmt.Errorf("failed to poke scheduler: %w", err)
	}
	return nil
}

func (s *Supervisor) recordedPID(ctx context.Context) (int, bool, error) {
	value, err := s.store.GetSetting(ctx, store.SettingSchedulerPID)
	if errors.Is(err, store.ErrSettingNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	pid, err := strconv.Atoi(value)
	if err != nil || pid <= 0 {
		// Garbage in the row is as good as no scheduler.
		if _, derr := s.store.DeleteSettingIf(ctx, store.SettingSchedulerPID, value); derr != nil {
			return 0, false, derr
		}
		return 0, false, nil
	}
	return pid, true, nil
}
