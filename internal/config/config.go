// Package config loads cookiestash settings from a YAML file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage backends.
const (
	StorageSQLite = "sqlite"
	StorageRedis  = "redis"
	StorageFile   = "file"
)

var (
	// ErrConfigNotFound is returned when an explicitly named config file
	// does not exist.
	ErrConfigNotFound = errors.New("config file not found")

	// ErrInvalidConfig wraps every validation failure.
	ErrInvalidConfig = errors.New("invalid config")
)

// Config holds all settings.
type Config struct {
	DataDir       string     `yaml:"data_dir"`
	Storage       string     `yaml:"storage"`
	RedisURL      string     `yaml:"redis_url"`
	LogLevel      string     `yaml:"log_level"`
	SweepSchedule string     `yaml:"sweep_schedule"`
	Sync          SyncConfig `yaml:"sync"`
}

// SyncConfig tunes the surface sync bridge.
type SyncConfig struct {
	Attempts  int           `yaml:"attempts"`
	BaseDelay time.Duration `yaml:"base_delay"`
	MaxDelay  time.Duration `yaml:"max_delay"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		DataDir:       defaultDir(),
		Storage:       StorageSQLite,
		RedisURL:      "redis://localhost:6379/0",
		LogLevel:      "info",
		SweepSchedule: "@every 1m",
		Sync: SyncConfig{
			Attempts:  3,
			BaseDelay: 200 * time.Millisecond,
			MaxDelay:  2 * time.Second,
		},
	}
}

// DefaultPath returns the config file used when none is given.
func DefaultPath() string {
	return filepath.Join(defaultDir(), "config.yaml")
}

func defaultDir() string {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return ".cookiestash"
	}
	return filepath.Join(configDir, "cookiestash")
}

// Load reads path over the defaults. An empty path means DefaultPath, and a
// missing default file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}

	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if explicit {
				return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(content, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	cfg.DataDir = expandHome(cfg.DataDir)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings for consistency.
func (c *Config) Validate() error {
	switch c.Storage {
	case StorageSQLite, StorageFile:
	case StorageRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("%w: redis storage needs redis_url", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown storage %q", ErrInvalidConfig, c.Storage)
	}

	if c.DataDir == "" && c.Storage != StorageRedis {
		return fmt.Errorf("%w: data_dir is required", ErrInvalidConfig)
	}
	if c.Sync.Attempts <= 0 {
		return fmt.Errorf("%w: sync.attempts must be positive", ErrInvalidConfig)
	}
	if c.Sync.BaseDelay <= 0 || c.Sync.MaxDelay < c.Sync.BaseDelay {
		return fmt.Errorf("%w: sync delays must satisfy 0 < base_delay <= max_delay", ErrInvalidConfig)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// ParseLevel maps a log_level value to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("%w: log_level %q", ErrInvalidConfig, s)
	}
	return level, nil
}

// SQLitePath is the database file for sqlite storage.
func (c *Config) SQLitePath() string {
	return filepath.Join(c.DataDir, "cookies.db")
}

// FilePath is the document for file storage.
func (c *Config) FilePath() string {
	return filepath.Join(c.DataDir, "cookies.json")
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}
