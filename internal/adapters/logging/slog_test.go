package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, "debug", "json")
	require.NoError(t, err)

	logger.With("component", "test").Info("assignment created", "experiment_id", "E1")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "assignment created", record["msg"])
	assert.Equal(t, "E1", record["experiment_id"])
	assert.Equal(t, "test", record["component"])
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, "warn", "text")
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Debug("hidden")
	assert.Empty(t, buf.String())

	logger.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestNew_Invalid(t *testing.T) {
	_, err := New(&bytes.Buffer{}, "loud", "text")
	assert.Error(t, err)

	_, err = New(&bytes.Buffer{}, "info", "yaml")
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("WARNING")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, lvl)
}
