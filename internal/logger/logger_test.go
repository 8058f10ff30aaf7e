package logger

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
	}{
		{"debug", LevelDebug},
		{"DEBUG", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{" none ", LevelNone},
		{"off", LevelNone},
		{"invalid", LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseLevel(tt.input))
		})
	}
}

func TestLevelString(t *testing.T) {
	assert.Equal(t, "DEBUG", LevelDebug.String())
	assert.Equal(t, "WARN", LevelWarn.String())
	assert.Equal(t, "NONE", LevelNone.String())
	assert.Equal(t, "UNKNOWN", Level(42).String())
}

func newTestLogger(level Level) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	l := NewWriter(level, &buf, "")
	l.sink.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }
	return l, &buf
}

func TestLoggerFiltersByLevel(t *testing.T) {
	l, buf := newTestLogger(LevelWarn)

	l.Debug("hidden %d", 1)
	l.Info("hidden %d", 2)
	l.Warn("shown %d", 3)
	l.Error("shown %d", 4)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "2024-01-02 03:04:05.000 [WARN] shown 3")
	assert.Contains(t, out, "[ERROR] shown 4")
}

func TestWithPrefixSharesLevel(t *testing.T) {
	root, buf := newTestLogger(LevelInfo)
	child := root.WithPrefix("bridge").WithPrefix("stream")

	child.Debug("before")
	root.SetLevel(LevelDebug)
	child.Debug("after")

	out := buf.String()
	assert.NotContains(t, out, "before")
	assert.Contains(t, out, "[DEBUG] [bridge:stream] after")
	assert.Equal(t, LevelDebug, child.GetLevel())
}

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "bridge.log")

	l, err := New(LevelInfo, path, "test")
	require.NoError(t, err)
	l.Info("hello %s", "file")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(strings.TrimSpace(string(data)), "[INFO] [test] hello file"))

	// Writes after Close are discarded rather than failing
	l.Info("dropped")
}

func TestNewDisabled(t *testing.T) {
	l, err := New(LevelInfo, "", "")
	require.NoError(t, err)
	assert.Equal(t, LevelNone, l.GetLevel())
	assert.NoError(t, l.Close())
}

func TestGlobalDefaultsToDiscard(t *testing.T) {
	SetGlobal(nil)
	assert.NotPanics(t, func() { Info("nothing happens") })

	l, buf := newTestLogger(LevelDebug)
	SetGlobal(l)
	defer SetGlobal(nil)

	Debug("via global")
	assert.Contains(t, buf.String(), "via global")
}

func TestSlogHandler(t *testing.T) {
	l, buf := newTestLogger(LevelInfo)
	sl := slog.New(NewSlogHandler(l)).With("component", "host").WithGroup("req")

	sl.Debug("skipped")
	sl.Info("served", "path", "/sessions", slog.Group("resp", "status", 201))

	out := buf.String()
	assert.NotContains(t, out, "skipped")
	assert.Contains(t, out, "[INFO] served component=host req.path=/sessions req.resp.status=201")
	assert.Nil(t, NewSlogHandler(nil))
}
