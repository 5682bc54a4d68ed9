package app

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", LogLevelDebug},
		{"DEBUG", LogLevelDebug},
		{"", LogLevelInfo},
		{"info", LogLevelInfo},
		{"warning", LogLevelWarn},
		{" error ", LogLevelError},
	}
	for _, tt := range tests {
		got, err := ParseLogLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseLogLevel("chatty")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLogLevelString(t *testing.T) {
	assert.Equal(t, "warn", LogLevelWarn.String())
	assert.Equal(t, "unknown", LogLevel(42).String())
}

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultLoggerConfig()
	cfg.Format = FormatJSON
	cfg.Output = &buf

	l, err := NewLogger(cfg)
	require.NoError(t, err)

	l.WithName("session").Info("engine connected", "appid", "4242")
	l.V(1).Info("hidden at info")
	l.Error(errors.New("refused"), "proxy registration failed")
	require.NoError(t, l.Close())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "engine connected", entry["msg"])
	assert.Equal(t, "session", entry["logger"])
	assert.Equal(t, "4242", entry["appid"])

	require.NoError(t, json.Unmarshal([]byte(lines[1]), &entry))
	assert.Equal(t, "refused", entry["error"])
}

func TestLoggerSetLevel(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewLogger(LoggerConfig{Level: LogLevelInfo, Output: &buf})
	require.NoError(t, err)

	l.V(1).Info("first")
	assert.Empty(t, buf.String())

	l.SetLevel(LogLevelDebug)
	assert.Equal(t, LogLevelDebug, l.Level())
	l.V(1).Info("second")
	assert.Contains(t, buf.String(), "second")
	assert.Contains(t, buf.String(), "DEBUG")
}

func TestNewLoggerFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dbgpd.log")
	l, err := NewLogger(LoggerConfig{Level: LogLevelInfo, Format: FormatJSON, File: path, MaxSizeMB: 1})
	require.NoError(t, err)

	l.Info("listening", "addr", "127.0.0.1:9000")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"addr":"127.0.0.1:9000"`)
}

func TestNewLoggerRejectsFormat(t *testing.T) {
	_, err := NewLogger(LoggerConfig{Format: "xml"})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
