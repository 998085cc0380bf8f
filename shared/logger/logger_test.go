package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSON(t *testing.T) {
	tests := []struct {
		name      string
		level     string
		wantLines int
		wantFirst string
	}{
		{name: "debug level keeps everything", level: "debug", wantLines: 4, wantFirst: "DEBUG"},
		{name: "info level drops debug", level: "info", wantLines: 3, wantFirst: "INFO"},
		{name: "warn level", level: "warn", wantLines: 2, wantFirst: "WARN"},
		{name: "error level", level: "error", wantLines: 1, wantFirst: "ERROR"},
		{name: "unknown level falls back to info", level: "loud", wantLines: 3, wantFirst: "INFO"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			l, err := New(&Config{Level: tt.level, Format: "json", writer: &buf})
			require.NoError(t, err)

			l.Debug("Polling chat history")
			l.Info("Video reply matched", slog.String("job_id", "job-1"))
			l.Warn("Agent identity unavailable")
			l.Error("Download failed")

			lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
			require.Len(t, lines, tt.wantLines)

			var entry map[string]any
			require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
			assert.Equal(t, tt.wantFirst, entry["level"])
			assert.Contains(t, entry, "time")
		})
	}
}

func TestNew_JSONAttributes(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(&Config{Level: "info", Format: "json", writer: &buf})
	require.NoError(t, err)

	l.With(slog.String("job_id", "job-1")).Info("Job claimed", slog.Int64("video_message_id", 500))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "Job claimed", entry["msg"])
	assert.Equal(t, "job-1", entry["job_id"])
	assert.Equal(t, float64(500), entry["video_message_id"])
}

func TestNew_Console(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(&Config{Level: "info", Format: "text", writer: &buf})
	require.NoError(t, err)

	l.Info("Worker started", slog.Int("concurrency", 4))

	out := buf.String()
	assert.Contains(t, out, "Worker started")
	assert.Contains(t, out, "concurrency")
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "worker.log")

	l, err := New(&Config{Level: "info", Format: "json", Output: path})
	require.NoError(t, err)
	l.Info("Written to file")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Written to file")
}

func TestNew_StdStreams(t *testing.T) {
	for _, out := range []string{"", "stdout", "stderr"} {
		l, err := New(&Config{Output: out})
		require.NoError(t, err)
		assert.NoError(t, l.Close())
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestNewDefault(t *testing.T) {
	l := NewDefault()
	require.NotNil(t, l)
	assert.True(t, l.Enabled(nil, slog.LevelInfo))
	assert.False(t, l.Enabled(nil, slog.LevelDebug))
}
