package tools

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aatumaykin/nexbeat/internal/store"
)

func TestSystemTimeTool(t *testing.T) {
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	tool := NewSystemTimeTool(func() time.Time { return fixed }, nil)
	assert.Equal(t, "system_time", tool.Name())

	tests := []struct {
		name    string
		args    string
		want    string
		wantErr string
	}{
		{name: "empty args", args: "", want: "RFC3339: 2025-03-01T12:00:00Z"},
		{name: "empty object", args: "{}", want: "Saturday, 01 March 2025"},
		{name: "explicit utc", args: `{"timezone":"UTC"}`, want: "12:00:00 UTC"},
		{name: "unknown zone", args: `{"timezone":"Mars/Olympus"}`, wantErr: CodeInvalid},
		{name: "unknown field", args: `{"zone":"UTC"}`, wantErr: CodeInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := FromTool(tool).Invoke(context.Background(), tt.args)
			if tt.wantErr != "" {
				require.False(t, res.OK())
				assert.Equal(t, tt.wantErr, res.Err.Code)
				return
			}
			require.True(t, res.OK())
			assert.Contains(t, res.Data, tt.want)
		})
	}
}

func newScheduleStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "tools.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	ctx := context.Background()
	_, err = st.Create(ctx, store.NewSchedule{Name: "daily", CronSchedule: "0 9 * * *", Enabled: true, TaskType: store.TaskTypePost,
		Params: map[string]any{"topic": "go"}})
	require.NoError(t, err)
	_, err = st.Create(ctx, store.NewSchedule{Name: "stats", CronSchedule: "0 * * * *", Enabled: true, TaskType: store.TaskTypeAnalytics})
	require.NoError(t, err)
	_, err = st.Create(ctx, store.NewSchedule{Name: "off", CronSchedule: "0 * * * *", Enabled: false})
	require.NoError(t, err)
	return st
}

func TestSchedulesTool(t *testing.T) {
	st := newScheduleStore(t)
	d := FromTool(NewSchedulesTool(st))
	ctx := context.Background()

	t.Run("list enabled", func(t *testing.T) {
		res := d.Invoke(ctx, `{"action":"list"}`)
		require.True(t, res.OK(), res.Content())
		var views []scheduleView
		require.NoError(t, json.Unmarshal([]byte(res.Data), &views))
		require.Len(t, views, 2)
		assert.Equal(t, "daily", views[0].Name)
		assert.Equal(t, "go", views[0].Params["topic"])
		assert.NotEmpty(t, views[0].NextRun)
	})

	t.Run("list by type", func(t *testing.T) {
		res := d.Invoke(ctx, `{"action":"list","task_type":"analytics"}`)
		require.True(t, res.OK())
		var views []scheduleView
		require.NoError(t, json.Unmarshal([]byte(res.Data), &views))
		require.Len(t, views, 1)
		assert.Equal(t, "stats", views[0].Name)
	})

	t.Run("get", func(t *testing.T) {
		res := d.Invoke(ctx, `{"action":"get","name":"off"}`)
		require.True(t, res.OK())
		var v scheduleView
		require.NoError(t, json.Unmarshal([]byte(res.Data), &v))
		assert.False(t, v.Enabled)
	})

	t.Run("errors", func(t *testing.T) {
		for args, code := range map[string]string{
			`{"action":"get"}`:               CodeInvalid,
			`{"action":"get","name":"nope"}`: CodeNotFound,
			`{"action":"delete"}`:            CodeInvalid,
			`not json`:                       CodeInvalid,
		} {
			res := d.Invoke(ctx, args)
			require.False(t, res.OK(), args)
			assert.Equal(t, code, res.Err.Code, args)
		}
	})
}
