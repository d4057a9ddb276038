// Package cron evaluates standard 5-field cron expressions.
//
// Expressions are parsed with robfig/cron in its standard form
// (minute hour day-of-month month day-of-week) plus @-descriptors
// such as @hourly. A CRON_TZ=<zone> prefix pins the expression to a zone;
// otherwise Next evaluates it in the location passed by the caller.
package cron

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrInvalidCron is returned for expressions that do not parse.
var ErrInvalidCron = errors.New("invalid cron expression")

var parser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Expr is a parsed cron expression.
type Expr struct {
	raw   string
	sched cron.Schedule
}

// Parse parses expr. Errors wrap ErrInvalidCron.
func Parse(expr string) (*Expr, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("%w: empty expression", ErrInvalidCron)
	}
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidCron, expr, err)
	}
	return &Expr{raw: expr, sched: sched}, nil
}

// Validate reports whether expr parses.
func Validate(expr string) error {
	_, err := Parse(expr)
	return err
}

// String returns the expression as it was parsed.
func (e *Expr) String() string {
	return e.raw
}

// Next returns the first activation strictly after from, evaluated in loc.
// A nil loc means UTC. The result is expressed in loc.
func (e *Expr) Next(from time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return e.sched.Next(from.In(loc))
}

// Next parses expr and returns its first activation strictly after from.
func Next(expr string, from time.Time, loc *time.Location) (time.Time, error) {
	e, err := Parse(expr)
	if err != nil {
		return time.Time{}, err
	}
	return e.Next(from, loc), nil
}

// Due reports whether expr has fired in (from, now].
func Due(expr string, from, now time.Time, loc *time.Location) (bool, error) {
	next, err := Next(expr, from, loc)
	if err != nil {
		return false, err
	}
	return !next.IsZero() && !next.After(now), nil
}

// LoadLocation resolves a zone name. Empty and "UTC" map to time.UTC,
// "Local" to time.Local.
func LoadLocation(name string) (*time.Location, error) {
	switch name {
	case "", "UTC", "utc":
		return time.UTC, nil
	case "Local", "local":
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q: %w", name, err)
	}
	return loc, nil
}
