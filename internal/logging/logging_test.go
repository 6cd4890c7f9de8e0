package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/apexion-ai/taskloop/internal/config"
)

func TestNewWritesToDataDir(t *testing.T) {
	dir := t.TempDir()
	logger, err := New(config.LogConfig{Level: "info"}, dir)
	require.NoError(t, err)

	logger.Info("task started", zap.String("task", "abc"))
	logger.Debug("hidden")
	_ = logger.Sync()

	data, err := os.ReadFile(filepath.Join(dir, "taskloop.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"task started"`)
	assert.Contains(t, string(data), `"task":"abc"`)
	assert.NotContains(t, string(data), "hidden")
}

func TestNewExplicitFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "out.log")
	logger, err := New(config.LogConfig{Level: "warn", File: path}, "")
	require.NoError(t, err)
	logger.Warn("careful")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "careful")
}

func TestNewInvalidLevel(t *testing.T) {
	_, err := New(config.LogConfig{Level: "loud"}, t.TempDir())
	assert.Error(t, err)
}
