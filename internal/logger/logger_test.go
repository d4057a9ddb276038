package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name:   "json to stdout",
			config: Config{Level: "debug", Format: "json", Output: "stdout"},
		},
		{
			name:   "text to stderr",
			config: Config{Level: "info", Format: "text", Output: "stderr"},
		},
		{
			name:   "empty output defaults to stderr",
			config: Config{Level: "", Format: "text"},
		},
		{
			name:   "file output",
			config: Config{Level: "warn", Format: "json", Output: filepath.Join(t.TempDir(), "logs", "nexbeat.log")},
		},
		{
			name:    "invalid level",
			config:  Config{Level: "invalid", Format: "json", Output: "stdout"},
			wantErr: true,
		},
		{
			name:    "invalid format",
			config:  Config{Level: "debug", Format: "xml", Output: "stdout"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log, err := New(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, log)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, log)
		})
	}
}

func TestLogger_WriterOverridesOutput(t *testing.T) {
	buf := &bytes.Buffer{}
	log, err := New(Config{Level: "info", Format: "json", Output: "/definitely/not/used", Writer: buf})
	require.NoError(t, err)

	log.Info("beat", Field{Key: "due", Value: 2})

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "beat", rec["msg"])
	assert.EqualValues(t, 2, rec["due"])
}

func TestLogger_Levels(t *testing.T) {
	buf := &bytes.Buffer{}
	log := createTestLogger(t, buf, "json")
	ctx := context.Background()

	log.Debug("debug message", Field{Key: "k", Value: "v"})
	log.Info("info message")
	log.Warn("warn message")
	log.Error("error message", errors.New("boom"), Field{Key: "schedule_id", Value: 7})
	log.DebugCtx(ctx, "debug ctx")
	log.InfoCtx(ctx, "info ctx")
	log.WarnCtx(ctx, "warn ctx")
	log.ErrorCtx(ctx, "error ctx", errors.New("ctx boom"))

	out := buf.String()
	for _, want := range []string{
		"debug message", "info message", "warn message", "error message", "boom",
		"debug ctx", "info ctx", "warn ctx", "error ctx", "ctx boom", "schedule_id",
	} {
		assert.Contains(t, out, want)
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	tests := []struct {
		level string
		want  []string
		skip  []string
	}{
		{level: "debug", want: []string{"debug message", "info message", "warn message", "error message"}},
		{level: "info", want: []string{"info message", "warn message", "error message"}, skip: []string{"debug message"}},
		{level: "warn", want: []string{"warn message", "error message"}, skip: []string{"debug message", "info message"}},
		{level: "error", want: []string{"error message"}, skip: []string{"debug message", "info message", "warn message"}},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			buf := &bytes.Buffer{}
			log, err := New(Config{Level: tt.level, Format: "text", Writer: buf})
			require.NoError(t, err)

			log.Debug("debug message")
			log.Info("info message")
			log.Warn("warn message")
			log.Error("error message", nil)

			out := buf.String()
			for _, s := range tt.want {
				assert.Contains(t, out, s)
			}
			for _, s := range tt.skip {
				assert.NotContains(t, out, s)
			}
		})
	}
}

func TestLogger_WithAndComponent(t *testing.T) {
	buf := &bytes.Buffer{}
	log := createTestLogger(t, buf, "json")

	log.With(Field{Key: "version", Value: "1.0.0"}).Component("beat").Info("tick")

	out := buf.String()
	assert.Contains(t, out, `"component":"beat"`)
	assert.Contains(t, out, `"version":"1.0.0"`)
}

func TestDiscard(t *testing.T) {
	log := Discard()
	require.NotNil(t, log)
	log.Info("nothing")
	log.Error("nothing", errors.New("x"))
	assert.NotNil(t, log.StdLogger())
}

func TestLogger_TextFormat(t *testing.T) {
	buf := &bytes.Buffer{}
	log := createTestLogger(t, buf, "text")

	log.Info("test message")

	assert.True(t, strings.Contains(buf.String(), "msg=\"test message\""))
}

func createTestLogger(t *testing.T, buf *bytes.Buffer, format string) *Logger {
	t.Helper()

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	} else {
		handler = slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	return &Logger{slog: slog.New(handler)}
}

func BenchmarkLogger_Info(b *testing.B) {
	log := &Logger{slog: slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelInfo}))}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		log.Info("benchmark info message", Field{Key: "iteration", Value: i})
	}
}
