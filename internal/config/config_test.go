package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "websocket", cfg.Telemetry.Mode)
	assert.Equal(t, 1000, cfg.Series.MaxPoints)
	assert.Equal(t, 4*time.Hour, cfg.Series.MaxAge())
	assert.Equal(t, 5*time.Second, cfg.Series.DedupTolerance())
	assert.Equal(t, 5*time.Minute, cfg.Series.SweepInterval())
	assert.Equal(t, 5, cfg.Telemetry.RetryAttempts)
	assert.Equal(t, time.Second, cfg.Telemetry.RetryInterval())
	assert.Equal(t, "0.0.0.0:8080", cfg.GetServerAddr())
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9999
telemetry:
  mode: mqtt
  broker: tcp://broker:1883
series:
  maxPoints: 500
  dedupToleranceMs: 2000
`), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "mqtt", cfg.Telemetry.Mode)
	assert.Equal(t, "tcp://broker:1883", cfg.Telemetry.Broker)
	assert.Equal(t, 500, cfg.Series.MaxPoints)
	assert.Equal(t, 2*time.Second, cfg.Series.DedupTolerance())

	// Unset fields keep their defaults
	assert.Equal(t, 1000, cfg.History.DefaultLimit)
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [broken"), 0644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "7777")
	t.Setenv("TELEMETRY_URL", "ws://override:9000/telemetry")
	t.Setenv("TELEMETRY_MODE", "websocket")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Server.Port)
	assert.Equal(t, "ws://override:9000/telemetry", cfg.Telemetry.URL)
}

func TestEnsureDirectories(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.DataDirectory = filepath.Join(t.TempDir(), "nested", "data")

	require.NoError(t, cfg.EnsureDirectories())
	info, err := os.Stat(cfg.Storage.DataDirectory)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
