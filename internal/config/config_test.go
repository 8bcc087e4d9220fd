package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, StorageSQLite, cfg.Storage)
	assert.Equal(t, "@every 1m", cfg.SweepSchedule)
	assert.Equal(t, 3, cfg.Sync.Attempts)
	assert.Equal(t, 200*time.Millisecond, cfg.Sync.BaseDelay)
	assert.Equal(t, 2*time.Second, cfg.Sync.MaxDelay)
	assert.NoError(t, cfg.Validate())
}

func TestLoad(t *testing.T) {
	t.Run("merges file over defaults", func(t *testing.T) {
		path := writeConfig(t, `
data_dir: /var/lib/cookiestash
storage: redis
redis_url: redis://cache:6379/2
sync:
  attempts: 5
  base_delay: 50ms
`)
		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "/var/lib/cookiestash", cfg.DataDir)
		assert.Equal(t, StorageRedis, cfg.Storage)
		assert.Equal(t, "redis://cache:6379/2", cfg.RedisURL)
		assert.Equal(t, 5, cfg.Sync.Attempts)
		assert.Equal(t, 50*time.Millisecond, cfg.Sync.BaseDelay)
		assert.Equal(t, 2*time.Second, cfg.Sync.MaxDelay, "unset keys keep defaults")
		assert.Equal(t, "info", cfg.LogLevel)
	})

	t.Run("expands home directory", func(t *testing.T) {
		home, err := os.UserHomeDir()
		if err != nil {
			t.Skip("no home directory")
		}
		cfg, err := Load(writeConfig(t, "data_dir: ~/cookies\n"))
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(home, "cookies"), cfg.DataDir)
	})

	t.Run("explicit missing file is an error", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
		assert.ErrorIs(t, err, ErrConfigNotFound)
	})

	t.Run("invalid yaml is an error", func(t *testing.T) {
		_, err := Load(writeConfig(t, "storage: [unterminated"))
		assert.Error(t, err)
	})

	t.Run("invalid values are rejected", func(t *testing.T) {
		_, err := Load(writeConfig(t, "storage: etcd\n"))
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"unknown storage", func(c *Config) { c.Storage = "memcached" }},
		{"redis without url", func(c *Config) { c.Storage = StorageRedis; c.RedisURL = "" }},
		{"missing data dir", func(c *Config) { c.DataDir = "" }},
		{"zero attempts", func(c *Config) { c.Sync.Attempts = 0 }},
		{"negative base delay", func(c *Config) { c.Sync.BaseDelay = -time.Second }},
		{"max below base", func(c *Config) { c.Sync.MaxDelay = time.Millisecond }},
		{"bad log level", func(c *Config) { c.LogLevel = "chatty" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}

	t.Run("redis needs no data dir", func(t *testing.T) {
		cfg := Default()
		cfg.Storage = StorageRedis
		cfg.DataDir = ""
		assert.NoError(t, cfg.Validate())
	})
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)

	level, err = ParseLevel("WARN")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, level)
}

func TestPaths(t *testing.T) {
	cfg := &Config{DataDir: "/data"}
	assert.Equal(t, filepath.Join("/data", "cookies.db"), cfg.SQLitePath())
	assert.Equal(t, filepath.Join("/data", "cookies.json"), cfg.FilePath())
}
