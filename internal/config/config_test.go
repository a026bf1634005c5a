package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearlane/tradeflow/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 1024, cfg.Bus.QueueSize)
	assert.Equal(t, 1000, cfg.Bus.HistorySize)
	assert.Equal(t, 15*time.Minute, cfg.WS.IdleTimeout)
	assert.Empty(t, cfg.Database.DSN)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("TRADEFLOW_SERVER_ADDR", ":9999")
	t.Setenv("TRADEFLOW_BUS_HISTORY_SIZE", "250")

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.Equal(t, 250, cfg.Bus.HistorySize)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":7070"
log:
  level: debug
ws:
  idle_timeout: 5m
`), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Addr)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 5*time.Minute, cfg.WS.IdleTimeout)
	// Unset keys keep their defaults.
	assert.Equal(t, 1024, cfg.Bus.QueueSize)
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := config.Load("/nonexistent/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
}
