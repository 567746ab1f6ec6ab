package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		" warn ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"trace":   slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), "level %q", in)
	}
}

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{Level: "info", Output: &buf, Component: "triage"})

	logger.Debug("hidden")
	logger.Info("run finished", "run_id", "r1")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "run finished", record["msg"])
	assert.Equal(t, "r1", record["run_id"])
	assert.Equal(t, "triage", record["component"])
	assert.NotContains(t, buf.String(), "hidden")
}

func TestNewLoggerText(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{Level: "debug", Format: "text", Output: &buf})

	logger.Debug("node entered", "node_id", "review")
	assert.Contains(t, buf.String(), "level=DEBUG")
	assert.Contains(t, buf.String(), "node_id=review")
}

func TestNewLoggerPrettyForcesText(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(Config{Pretty: true, Format: "json", Output: &buf}).Warn("slow worker")
	assert.Contains(t, buf.String(), "level=WARN")
}
