package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelInfo, parseLevel("INFO"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warning"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelDebug, parseLevel(""))
}

func TestWithAddsAttributes(t *testing.T) {
	var buf bytes.Buffer
	log := FromSlog(slog.New(slog.NewJSONHandler(&buf, nil))).With("component", "dispatch")
	log.Info("executed", "count", 3)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "dispatch", line["component"])
	assert.Equal(t, "executed", line["msg"])
	assert.EqualValues(t, 3, line["count"])
}

func TestNewWritesRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.log")
	log := New(Options{File: path, Level: "info", MaxSize: 1})
	log.Debug("dropped")
	log.Info("kept")
	require.NoError(t, log.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "kept")
	assert.NotContains(t, string(data), "dropped")
}
