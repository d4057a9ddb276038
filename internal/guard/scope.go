package guard

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/aatumaykin/nexbeat/internal/logger"
	"github.com/aatumaykin/nexbeat/internal/store"
)

// Scope is handed to a guarded body.
type Scope struct {
	guard    *Guard
	schedule *store.Schedule
	taskID   string
	start    time.Time

	mu    sync.Mutex
	state map[string]any
}

// Guarded reports whether the scope is bound to a schedule row.
func (s *Scope) Guarded() bool {
	return s.schedule != nil
}

// Schedule returns the row loaded on entry, or nil when unguarded.
func (s *Scope) Schedule() *store.Schedule {
	return s.schedule
}

// TaskID returns the task id recorded on the row.
func (s *Scope) TaskID() string {
	return s.taskID
}

// StartedAt returns the time the guard was entered.
func (s *Scope) StartedAt() time.Time {
	return s.start
}

// UpdateState merges kv into the schedule's state column. Failed writes are
// retried as part of the success exit. The state never affects liveness.
func (s *Scope) UpdateState(ctx context.Context, kv map[string]any) {
	if s.schedule == nil || len(kv) == 0 {
		return
	}

	s.mu.Lock()
	if s.state == nil {
		s.state = make(map[string]any, len(kv))
	}
	maps.Copy(s.state, kv)
	s.mu.Unlock()

	if _, err := s.guard.store.Update(ctx, s.schedule.ID, store.Patch{State: kv}); err != nil {
		s.guard.logger.WarnCtx(ctx, "state update deferred to exit",
			logger.Field{Key: "schedule_id", Value: s.schedule.ID},
			logger.Field{Key: "error", Value: err})
	}
}

func (s *Scope) pendingState() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.state) == 0 {
		return nil
	}
	return maps.Clone(s.state)
}
