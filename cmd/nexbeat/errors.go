package main

import (
	"errors"

	"github.com/aatumaykin/nexbeat/internal/beat"
	"github.com/aatumaykin/nexbeat/internal/cron"
	"github.com/aatumaykin/nexbeat/internal/daemon"
	"github.com/aatumaykin/nexbeat/internal/store"
)

// Process exit codes.
const (
	exitOK             = 0
	exitFailure        = 1
	exitInvalidCron    = 2
	exitDuplicateName  = 3
	exitNotFound       = 4
	exitAlreadyRunning = 5
)

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, cron.ErrInvalidCron):
		return exitInvalidCron
	case errors.Is(err, store.ErrDuplicateName):
		return exitDuplicateName
	case errors.Is(err, store.ErrNotFound):
		return exitNotFound
	case errors.Is(err, daemon.ErrSchedulerAlreadyRunning), errors.Is(err, beat.ErrAlreadyRunning):
		return exitAlreadyRunning
	default:
		return exitFailure
	}
}

// renderError formats err for stderr.
func renderError(err error) string {
	kind := ""
	switch {
	case errors.Is(err, cron.ErrInvalidCron):
		kind = "invalid cron: "
	case errors.Is(err, store.ErrDuplicateName):
		kind = "duplicate name: "
	case errors.Is(err, store.ErrNotFound):
		kind = "not found: "
	}
	return "error: " + kind + err.Error()
}
