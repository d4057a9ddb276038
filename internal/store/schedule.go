package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aatumaykin/nexbeat/internal/cron"
)

// Known task types. The set is open: any non-empty string is accepted and
// routed through configuration.
const (
	TaskTypePost            = "post"
	TaskTypeReply           = "reply"
	TaskTypeRetweet         = "retweet"
	TaskTypeLike            = "like"
	TaskTypeAnalytics       = "analytics"
	TaskTypeScheduledThread = "scheduled_thread"
	TaskTypeOther           = "other"
)

// Schedule is a persisted recurring job.
type Schedule struct {
	ID           int64
	Name         string
	CronSchedule string
	TaskType     string
	Params       map[string]any
	State        map[string]any

	Enabled   bool
	IsRunning bool
	IsDeleted bool

	TaskID string
	PID    *int

	LastRun   *time.Time
	NextRun   *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewSchedule holds the inputs of Create.
type NewSchedule struct {
	Name         string
	CronSchedule string
	Enabled      bool
	Params       map[string]any
	TaskType     string
}

// Patch lists the fields Update changes. Nil fields are left untouched.
// Setting IsRunning to false also clears PID. State is merged into the
// existing state object rather than replacing it.
type Patch struct {
	Name         *string
	CronSchedule *string
	TaskType     *string
	Enabled      *bool
	Params       map[string]any
	IsRunning    *bool
	PID          *int
	ClearPID     bool
	TaskID       *string
	LastRun      *time.Time
	NextRun      *time.Time
	State        map[string]any
}

// Filter narrows GetAll.
type Filter struct {
	OnlyEnabled    bool
	IncludeDeleted bool
	RunningOnly    bool
	TaskType       string
}

// Ptr returns a pointer to v. Handy for building a Patch.
func Ptr[T any](v T) *T {
	return &v
}

const scheduleColumns = `id, name, cron_schedule, task_type, params, state, enabled, is_running,
  is_deleted, task_id, pid, last_run, next_run, created_at, updated_at`

// Create inserts a schedule. next_run is the first firing after now.
func (s *Store) Create(ctx context.Context, in NewSchedule) (*Schedule, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, errors.New("schedule name is required")
	}
	expr, err := cron.Parse(in.CronSchedule)
	if err != nil {
		return nil, err
	}
	taskType := in.TaskType
	if taskType == "" {
		taskType = TaskTypeOther
	}
	params, err := encodeMap(in.Params)
	if err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}

	now := s.now()
	next := expr.Next(now, s.loc)

	res, err := s.db.ExecContext(ctx, `
INSERT INTO schedules (name, cron_schedule, task_type, params, state, enabled, created_at, updated_at, next_run)
VALUES (?, ?, ?, ?, '{}', ?, ?, ?, ?)`,
		name, expr.String(), taskType, params, boolInt(in.Enabled), now.UnixNano(), now.UnixNano(), nanos(&next))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateName, name)
		}
		return nil, persistence("insert schedule", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, persistence("insert schedule", err)
	}
	return s.GetByID(ctx, id)
}

// Update applies patch to the live schedule id. It reports whether a row
// matched. Changing the cron expression recomputes next_run from now
// unless the patch sets NextRun itself.
func (s *Store) Update(ctx context.Context, id int64, p Patch) (bool, error) {
	var (
		sets []string
		args []any
	)
	set := func(expr string, v any) {
		sets = append(sets, expr)
		args = append(args, v)
	}

	now := s.now()

	if p.Name != nil {
		name := strings.TrimSpace(*p.Name)
		if name == "" {
			return false, errors.New("schedule name is required")
		}
		set("name = ?", name)
	}
	if p.CronSchedule != nil {
		expr, err := cron.Parse(*p.CronSchedule)
		if err != nil {
			return false, err
		}
		set("cron_schedule = ?", expr.String())
		if p.NextRun == nil {
			next := expr.Next(now, s.loc)
			set("next_run = ?", nanos(&next))
		}
	}
	if p.TaskType != nil {
		set("task_type = ?", *p.TaskType)
	}
	if p.Enabled != nil {
		set("enabled = ?", boolInt(*p.Enabled))
	}
	if p.Params != nil {
		params, err := encodeMap(p.Params)
		if err != nil {
			return false, fmt.Errorf("encode params: %w", err)
		}
		set("params = ?", params)
	}
	if p.IsRunning != nil {
		set("is_running = ?", boolInt(*p.IsRunning))
	}
	switch {
	case p.IsRunning != nil && !*p.IsRunning, p.ClearPID:
		sets = append(sets, "pid = NULL")
	case p.PID != nil:
		set("pid = ?", *p.PID)
	}
	if p.TaskID != nil {
		set("task_id = ?", *p.TaskID)
	}
	if p.LastRun != nil {
		set("last_run = ?", nanos(p.LastRun))
	}
	if p.NextRun != nil {
		set("next_run = ?", nanos(p.NextRun))
	}
	if len(p.State) > 0 {
		state, err := encodeMap(p.State)
		if err != nil {
			return false, fmt.Errorf("encode state: %w", err)
		}
		set("state = json_patch(state, ?)", state)
	}

	set("updated_at = ?", now.UnixNano())
	args = append(args, id)

	query := "UPDATE schedules SET " + strings.Join(sets, ", ") + " WHERE id = ? AND is_deleted = 0"
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return false, fmt.Errorf("%w: %s", ErrDuplicateName, *p.Name)
		}
		return false, persistence(fmt.Sprintf("update schedule %d", id), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, persistence(fmt.Sprintf("update schedule %d", id), err)
	}
	return n > 0, nil
}

// Delete removes schedule id. Soft mode leaves a tombstone that frees the
// name and hides the row from every query except GetAll with IncludeDeleted.
func (s *Store) Delete(ctx context.Context, id int64, soft bool) error {
	var (
		res sql.Result
		err error
	)
	if soft {
		res, err = s.db.ExecContext(ctx,
			`UPDATE schedules SET is_deleted = 1, updated_at = ? WHERE id = ? AND is_deleted = 0`,
			s.now().UnixNano(), id)
	} else {
		res, err = s.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id)
	}
	if err != nil {
		return persistence(fmt.Sprintf("delete schedule %d", id), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return persistence(fmt.Sprintf("delete schedule %d", id), err)
	}
	if n == 0 {
		return fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return nil
}

// GetByID returns the live schedule id.
func (s *Store) GetByID(ctx context.Context, id int64) (*Schedule, error) {
	return s.getOne(ctx, "id = ?", id)
}

// GetByName returns the live schedule called name.
func (s *Store) GetByName(ctx context.Context, name string) (*Schedule, error) {
	return s.getOne(ctx, "name = ?", name)
}

// GetByTaskID returns the live schedule whose most recent dispatch is taskID.
func (s *Store) GetByTaskID(ctx context.Context, taskID string) (*Schedule, error) {
	if taskID == "" {
		return nil, fmt.Errorf("%w: empty task id", ErrNotFound)
	}
	return s.getOne(ctx, "task_id = ?", taskID)
}

func (s *Store) getOne(ctx context.Context, where string, arg any) (*Schedule, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+scheduleColumns+" FROM schedules WHERE "+where+" AND is_deleted = 0 ORDER BY id LIMIT 1", arg)
	sc, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, arg)
	}
	if err != nil {
		return nil, persistence("get schedule", err)
	}
	return sc, nil
}

// GetAll returns schedules matching f ordered by id.
func (s *Store) GetAll(ctx context.Context, f Filter) ([]*Schedule, error) {
	var (
		conds []string
		args  []any
	)
	if !f.IncludeDeleted {
		conds = append(conds, "is_deleted = 0")
	}
	if f.OnlyEnabled {
		conds = append(conds, "enabled = 1")
	}
	if f.RunningOnly {
		conds = append(conds, "is_running = 1")
	}
	if f.TaskType != "" {
		conds = append(conds, "task_type = ?")
		args = append(args, f.TaskType)
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}
	return s.query(ctx, "SELECT "+scheduleColumns+" FROM schedules"+where+" ORDER BY id", args...)
}

// GetActive returns enabled, non-deleted schedules ordered by id.
func (s *Store) GetActive(ctx context.Context) ([]*Schedule, error) {
	return s.GetAll(ctx, Filter{OnlyEnabled: true})
}

// GetRunning returns in-flight, non-deleted schedules ordered by id.
func (s *Store) GetRunning(ctx context.Context) ([]*Schedule, error) {
	return s.GetAll(ctx, Filter{RunningOnly: true})
}

// ResetStuck clears the in-flight markers of rows that have been running
// without an update for longer than maxAge and returns how many it touched.
func (s *Store) ResetStuck(ctx context.Context, maxAge time.Duration) (int, error) {
	now := s.now()
	res, err := s.db.ExecContext(ctx, `
UPDATE schedules SET is_running = 0, pid = NULL, updated_at = ?
WHERE is_running = 1 AND updated_at < ?`,
		now.UnixNano(), now.Add(-maxAge).UnixNano())
	if err != nil {
		return 0, persistence("reset stuck schedules", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, persistence("reset stuck schedules", err)
	}
	return int(n), nil
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]*Schedule, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, persistence("query schedules", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Schedule
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, persistence("scan schedule", err)
		}
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, persistence("query schedules", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSchedule(r scanner) (*Schedule, error) {
	var (
		sc                        Schedule
		params, state             string
		enabled, running, deleted int
		taskID                    sql.NullString
		pid                       sql.NullInt64
		lastRun, nextRun          sql.NullInt64
		createdAt, updatedAt      int64
	)
	if err := r.Scan(&sc.ID, &sc.Name, &sc.CronSchedule, &sc.TaskType, &params, &state,
		&enabled, &running, &deleted, &taskID, &pid, &lastRun, &nextRun, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	sc.Enabled = enabled != 0
	sc.IsRunning = running != 0
	sc.IsDeleted = deleted != 0
	sc.TaskID = taskID.String
	if pid.Valid {
		p := int(pid.Int64)
		sc.PID = &p
	}
	sc.LastRun = fromNanos(lastRun)
	sc.NextRun = fromNanos(nextRun)
	sc.CreatedAt = time.Unix(0, createdAt).UTC()
	sc.UpdatedAt = time.Unix(0, updatedAt).UTC()

	var err error
	if sc.Params, err = decodeMap(params); err != nil {
		return nil, fmt.Errorf("decode params of schedule %d: %w", sc.ID, err)
	}
	if sc.State, err = decodeMap(state); err != nil {
		return nil, fmt.Errorf("decode state of schedule %d: %w", sc.ID, err)
	}
	return &sc, nil
}

func encodeMap(m map[string]any) (string, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeMap(s string) (map[string]any, error) {
	out := map[string]any{}
	if s == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, err
	}
	return out, nil
}
