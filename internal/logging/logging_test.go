package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/relay-gateway/internal/config"
)

func noColor(t *testing.T) {
	t.Helper()
	prev := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = prev })
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), "level %q", in)
	}
}

func TestNewWithWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, &buf)

	logger.Debug("hidden")
	logger.With("component", "bridge").Info("request sent", "agent_id", "agent-1")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "request sent", rec["msg"])
	assert.Equal(t, "bridge", rec["component"])
	assert.Equal(t, "agent-1", rec["agent_id"])
}

func TestColorHandler_Text(t *testing.T) {
	noColor(t)
	var buf bytes.Buffer
	logger := NewWithWriter(config.LoggingConfig{Level: "debug", Format: "text"}, &buf)

	logger.With("component", "hub").WithGroup("req").Warn("slow reply", "correlation_id", "c-1")

	line := buf.String()
	assert.Contains(t, line, "WRN slow reply")
	assert.Contains(t, line, " component=hub")
	assert.Contains(t, line, " req.correlation_id=c-1")
	assert.Equal(t, byte('\n'), line[len(line)-1])
}

func TestColorHandler_LevelFilter(t *testing.T) {
	noColor(t)
	var buf bytes.Buffer
	logger := NewWithWriter(config.LoggingConfig{Level: "warn"}, &buf)

	logger.Info("quiet")
	assert.Zero(t, buf.Len())

	logger.Error("loud", "error", "boom")
	assert.Contains(t, buf.String(), "ERR loud error=boom")
}
