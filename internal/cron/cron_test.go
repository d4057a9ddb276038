package cron

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		expr    string
		wantErr bool
	}{
		{name: "every minute", expr: "* * * * *"},
		{name: "step", expr: "*/5 * * * *"},
		{name: "ranges and lists", expr: "0 9-17 * * 1,3,5"},
		{name: "descriptor", expr: "@hourly"},
		{name: "pinned zone", expr: "CRON_TZ=UTC 0 9 * * *"},
		{name: "surrounding whitespace", expr: "  0 0 * * *  "},
		{name: "empty", expr: "", wantErr: true},
		{name: "garbage", expr: "invalid", wantErr: true},
		{name: "six fields", expr: "0 */5 * * * *", wantErr: true},
		{name: "minute out of range", expr: "60 * * * *", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := Parse(tt.expr)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidCron))
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, e.String())
		})
	}
}

func TestNext_StrictlyAfter(t *testing.T) {
	from := time.Date(2025, 3, 1, 12, 3, 0, 0, time.UTC)

	next, err := Next("*/5 * * * *", from, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 1, 12, 5, 0, 0, time.UTC), next)

	onBoundary := time.Date(2025, 3, 1, 12, 5, 0, 0, time.UTC)
	next, err = Next("*/5 * * * *", onBoundary, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 1, 12, 10, 0, 0, time.UTC), next)
}

func TestNext_Location(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*60*60)
	from := time.Date(2025, 3, 1, 5, 30, 0, 0, time.UTC) // 08:30 local

	next, err := Next("0 9 * * *", from, loc)
	require.NoError(t, err)
	assert.True(t, next.Equal(time.Date(2025, 3, 1, 6, 0, 0, 0, time.UTC)), "got %s", next)
	assert.Equal(t, loc, next.Location())

	next, err = Next("0 9 * * *", from, nil)
	require.NoError(t, err)
	assert.True(t, next.Equal(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)), "got %s", next)
}

func TestDue(t *testing.T) {
	created := time.Date(2025, 3, 1, 12, 0, 30, 0, time.UTC)

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{name: "before first firing", now: created.Add(20 * time.Second), want: false},
		{name: "exactly at firing", now: time.Date(2025, 3, 1, 12, 1, 0, 0, time.UTC), want: true},
		{name: "several firings later", now: created.Add(10 * time.Minute), want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			due, err := Due("*/1 * * * *", created, tt.now, time.UTC)
			require.NoError(t, err)
			assert.Equal(t, tt.want, due)
		})
	}

	_, err := Due("bogus", created, created, time.UTC)
	assert.ErrorIs(t, err, ErrInvalidCron)
}

func TestLoadLocation(t *testing.T) {
	loc, err := LoadLocation("")
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)

	loc, err = LoadLocation("Local")
	require.NoError(t, err)
	assert.Equal(t, time.Local, loc)

	_, err = LoadLocation("Mars/Olympus_Mons")
	assert.Error(t, err)
}
