//go:build !unix

package daemon

import (
	"context"
	"errors"
)

var errUnsupported = errors.New("detached scheduler is only supported on unix")

// OSProcesses is unavailable on this platform.
type OSProcesses struct{}

func (OSProcesses) Alive(int) bool      { return false }
func (OSProcesses) Terminate(int) error { return errUnsupported }
func (OSProcesses) Kill(int) error      { return errUnsupported }

// ExecSpawner is unavailable on this platform.
type ExecSpawner struct {
	Executable string
	Args       []string
	LogFile    string
	Env        []string
}

func (ExecSpawner) Spawn(context.Context) (int, error) { return 0, errUnsupported }
