//go:build unix

package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
)

// OSProcesses signals real processes.
type OSProcesses struct{}

// Alive sends signal 0, which checks for existence without delivering
// anything. EPERM means the process exists under another user.
func (OSProcesses) Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = process.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}

// Terminate sends SIGTERM.
func (OSProcesses) Terminate(pid int) error {
	return syscall.Kill(pid, syscall.SIGTERM)
}

// Kill sends SIGKILL.
func (OSProcesses) Kill(pid int) error {
	return syscall.Kill(pid, syscall.SIGKILL)
}

// ExecSpawner runs Executable with Args in a new session, detached from
// the invoking terminal, appending stdout and stderr to LogFile.
type ExecSpawner struct {
	Executable string
	Args       []string
	LogFile    string
	Env        []string
}

// Spawn starts the process and does not wait for it.
func (e ExecSpawner) Spawn(ctx context.Context) (int, error) {
	executable := e.Executable
	if executable == "" {
		self, err := os.Executable()
		if err != nil {
			return 0, fmt.Errorf("failed to resolve executable: %w", err)
		}
		executable = self
	}

	out, err := openLog(e.LogFile)
	if err != nil {
		return 0, err
	}
	defer out.Close()

	// The child must outlive ctx, so it is not started with CommandContext.
	cmd := exec.Command(executable, e.Args...)
	cmd.Stdin = nil
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.Env = append(os.Environ(), e.Env...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to start %s: %w", executable, err)
	}
	pid := cmd.Process.Pid
	if err := cmd.Process.Release(); err != nil {
		return pid, fmt.Errorf("failed to release child: %w", err)
	}
	return pid, nil
}

func openLog(path string) (*os.File, error) {
	if path == "" {
		return os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, nil
}
