package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aatumaykin/nexbeat/internal/store"
)

// ScheduleLister is the read side of the schedule store.
type ScheduleLister interface {
	GetAll(ctx context.Context, f store.Filter) ([]*store.Schedule, error)
	GetByName(ctx context.Context, name string) (*store.Schedule, error)
}

// SchedulesArgs represents the arguments for the schedules tool.
type SchedulesArgs struct {
	Action   string `json:"action"`
	Name     string `json:"name,omitempty"`
	TaskType string `json:"task_type,omitempty"`
}

// SchedulesTool gives agents a read-only view of the schedules table.
type SchedulesTool struct {
	store ScheduleLister
}

// NewSchedulesTool creates a SchedulesTool.
func NewSchedulesTool(st ScheduleLister) *SchedulesTool {
	return &SchedulesTool{store: st}
}

// Name returns the tool name.
func (t *SchedulesTool) Name() string {
	return "schedules"
}

// Description returns a description of what the tool does.
func (t *SchedulesTool) Description() string {
	return "Read-only access to scheduled jobs. 'list' shows enabled schedules, 'get' shows one schedule by name."
}

// Parameters returns the JSON Schema for the tool's parameters.
func (t *SchedulesTool) Parameters() map[string]any {
	return objectSchema(map[string]any{
		"action": map[string]any{
			"type":        "string",
			"enum":        []string{"list", "get"},
			"description": "What to do.",
		},
		"name": map[string]any{
			"type":        "string",
			"description": "Schedule name. Required for 'get'.",
		},
		"task_type": map[string]any{
			"type":        "string",
			"description": "Restrict 'list' to one task type.",
		},
	}, "action")
}

type scheduleView struct {
	ID        int64          `json:"id"`
	Name      string         `json:"name"`
	Cron      string         `json:"cron"`
	TaskType  string         `json:"task_type"`
	Enabled   bool           `json:"enabled"`
	Running   bool           `json:"running"`
	Params    map[string]any `json:"params,omitempty"`
	LastRun   string         `json:"last_run,omitempty"`
	NextRun   string         `json:"next_run,omitempty"`
	StateKeys int            `json:"state_keys,omitempty"`
}

func viewOf(s *store.Schedule) scheduleView {
	v := scheduleView{
		ID:        s.ID,
		Name:      s.Name,
		Cron:      s.CronSchedule,
		TaskType:  s.TaskType,
		Enabled:   s.Enabled,
		Running:   s.IsRunning,
		Params:    s.Params,
		StateKeys: len(s.State),
	}
	if s.LastRun != nil {
		v.LastRun = s.LastRun.Format(time.RFC3339)
	}
	if s.NextRun != nil {
		v.NextRun = s.NextRun.Format(time.RFC3339)
	}
	return v
}

// Execute runs the requested action.
func (t *SchedulesTool) Execute(ctx context.Context, args string) (string, error) {
	var a SchedulesArgs
	if err := parseJSON(args, &a); err != nil {
		return "", NewValidationError(fmt.Sprintf("invalid arguments: %v", err), nil)
	}

	var payload any
	switch a.Action {
	case "list":
		list, err := t.store.GetAll(ctx, store.Filter{OnlyEnabled: true, TaskType: a.TaskType})
		if err != nil {
			return "", NewExecutionError(err.Error(), "")
		}
		views := make([]scheduleView, 0, len(list))
		for _, s := range list {
			views = append(views, viewOf(s))
		}
		payload = views
	case "get":
		if a.Name == "" {
			return "", NewValidationError("name is required for 'get'", nil)
		}
		s, err := t.store.GetByName(ctx, a.Name)
		if err != nil {
			return "", NewNotFoundError(CodeNotFound, err.Error(), "use action 'list' to see schedule names")
		}
		payload = viewOf(s)
	default:
		return "", NewValidationError(fmt.Sprintf("invalid action: %q", a.Action),
			map[string]any{"valid": "list, get"})
	}

	out, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal result: %w", err)
	}
	return string(out), nil
}
