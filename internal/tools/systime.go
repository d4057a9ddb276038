package tools

import (
	"context"
	"fmt"
	"time"
)

// SystemTimeArgs represents the arguments for the system_time tool.
type SystemTimeArgs struct {
	Timezone string `json:"timezone,omitempty"`
}

// SystemTimeTool reports the current time.
type SystemTimeTool struct {
	now func() time.Time
	loc *time.Location
}

// NewSystemTimeTool creates a SystemTimeTool answering in loc (UTC when nil).
func NewSystemTimeTool(now func() time.Time, loc *time.Location) *SystemTimeTool {
	if now == nil {
		now = time.Now
	}
	if loc == nil {
		loc = time.UTC
	}
	return &SystemTimeTool{now: now, loc: loc}
}

// Name returns the tool name.
func (t *SystemTimeTool) Name() string {
	return "system_time"
}

// Description returns a description of what the tool does.
func (t *SystemTimeTool) Description() string {
	return "Returns the current date and time, optionally in a given IANA timezone."
}

// Parameters returns the JSON Schema for the tool's parameters.
func (t *SystemTimeTool) Parameters() map[string]any {
	return objectSchema(map[string]any{
		"timezone": map[string]any{
			"type":        "string",
			"description": "IANA timezone name such as Europe/Berlin. Defaults to the scheduler timezone.",
		},
	})
}

// Execute returns the time in RFC3339 and in a human readable form.
func (t *SystemTimeTool) Execute(_ context.Context, args string) (string, error) {
	var a SystemTimeArgs
	if err := parseJSON(args, &a); err != nil {
		return "", NewValidationError(fmt.Sprintf("invalid arguments: %v", err), nil)
	}

	loc := t.loc
	if a.Timezone != "" {
		l, err := time.LoadLocation(a.Timezone)
		if err != nil {
			return "", NewValidationError(fmt.Sprintf("unknown timezone %q", a.Timezone),
				map[string]any{"timezone": a.Timezone})
		}
		loc = l
	}

	now := t.now().In(loc)
	return fmt.Sprintf("RFC3339: %s\nHuman readable: %s",
		now.Format(time.RFC3339),
		now.Format("Monday, 02 January 2006, 15:04:05 MST")), nil
}
