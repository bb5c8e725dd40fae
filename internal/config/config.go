// Package config loads daemon configuration from defaults, an optional
// YAML file, a .env file and DIARY_* environment variables, in that order.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full daemon configuration.
type Config struct {
	DataDir    string `yaml:"data_dir"`
	ListenAddr string `yaml:"listen_addr"`
	ScopeKey   string `yaml:"scope_key"`

	Remote  RemoteConfig  `yaml:"remote"`
	Sync    SyncConfig    `yaml:"sync"`
	Log     LogConfig     `yaml:"log"`
	Breaker BreakerConfig `yaml:"breaker"`

	ExportDir string `yaml:"export_dir"`

	// LoadedFrom lists the sources applied, lowest priority first.
	LoadedFrom []string `yaml:"-"`
}

// RemoteConfig addresses the remote domain service.
type RemoteConfig struct {
	BaseURL        string        `yaml:"base_url"`
	Token          string        `yaml:"token"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	HealthPath     string        `yaml:"health_path"`
}

// SyncConfig tunes the engine and the network monitor.
type SyncConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	SyncInterval   time.Duration `yaml:"sync_interval"`
	StatusInterval time.Duration `yaml:"status_interval"`
	ProbeInterval  time.Duration `yaml:"probe_interval"`
}

// LogConfig selects the log level and optional rotating file.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// BreakerConfig tunes the circuit breaker around remote calls.
type BreakerConfig struct {
	MaxRequests  uint32        `yaml:"max_requests"`
	Interval     time.Duration `yaml:"interval"`
	Timeout      time.Duration `yaml:"timeout"`
	MinRequests  uint32        `yaml:"min_requests"`
	FailureRatio float64       `yaml:"failure_ratio"`
}

// Default returns the built-in configuration.
func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	dataDir := filepath.Join(home, ".couples-diary")

	return &Config{
		DataDir:    dataDir,
		ListenAddr: "127.0.0.1:8090",
		Remote: RemoteConfig{
			RequestTimeout: 10 * time.Second,
			HealthPath:     "/health",
		},
		Sync: SyncConfig{
			MaxAttempts:    3,
			SyncInterval:   time.Minute,
			StatusInterval: 5 * time.Second,
			ProbeInterval:  15 * time.Second,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		Breaker: BreakerConfig{
			MaxRequests:  1,
			Interval:     time.Minute,
			Timeout:      30 * time.Second,
			MinRequests:  5,
			FailureRatio: 0.6,
		},
		LoadedFrom: []string{"defaults"},
	}
}

// Load builds the configuration. path may be empty; a missing file is not an error
// unless it was named explicitly.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	} else if err := cfg.loadFile(filepath.Join(cfg.DataDir, "config.yaml")); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	if err := godotenv.Load(); err == nil {
		cfg.LoadedFrom = append(cfg.LoadedFrom, ".env")
	}

	cfg.applyEnv()
	cfg.LoadedFrom = append(cfg.LoadedFrom, "environment")

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	c.LoadedFrom = append(c.LoadedFrom, path)
	return nil
}

func (c *Config) applyEnv() {
	setString(&c.DataDir, "DIARY_DATA_DIR")
	setString(&c.ListenAddr, "DIARY_LISTEN_ADDR")
	setString(&c.ScopeKey, "DIARY_SCOPE_KEY")
	setString(&c.ExportDir, "DIARY_EXPORT_DIR")

	setString(&c.Remote.BaseURL, "DIARY_REMOTE_URL")
	setString(&c.Remote.Token, "DIARY_REMOTE_TOKEN")
	setDuration(&c.Remote.RequestTimeout, "DIARY_REQUEST_TIMEOUT")
	setString(&c.Remote.HealthPath, "DIARY_REMOTE_HEALTH_PATH")

	setInt(&c.Sync.MaxAttempts, "DIARY_MAX_ATTEMPTS")
	setDuration(&c.Sync.SyncInterval, "DIARY_SYNC_INTERVAL")
	setDuration(&c.Sync.StatusInterval, "DIARY_STATUS_INTERVAL")
	setDuration(&c.Sync.ProbeInterval, "DIARY_PROBE_INTERVAL")

	setString(&c.Log.Level, "DIARY_LOG_LEVEL")
	setString(&c.Log.File, "DIARY_LOG_FILE")
}

// Validate checks the configuration is usable.
func (c *Config) Validate() error {
	var problems []string

	if c.DataDir == "" {
		problems = append(problems, "data_dir is required")
	}
	if c.ListenAddr == "" {
		problems = append(problems, "listen_addr is required")
	}
	if c.Sync.MaxAttempts < 1 {
		problems = append(problems, "sync.max_attempts must be at least 1")
	}
	if c.Remote.RequestTimeout <= 0 {
		problems = append(problems, "remote.request_timeout must be positive")
	}
	if c.Sync.SyncInterval <= 0 || c.Sync.StatusInterval <= 0 {
		problems = append(problems, "sync intervals must be positive")
	}
	if c.Remote.BaseURL != "" && !strings.HasPrefix(c.Remote.BaseURL, "http://") && !strings.HasPrefix(c.Remote.BaseURL, "https://") {
		problems = append(problems, "remote.base_url must be an http(s) URL")
	}
	if c.Breaker.FailureRatio <= 0 || c.Breaker.FailureRatio > 1 {
		problems = append(problems, "breaker.failure_ratio must be in (0, 1]")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%s", strings.Join(problems, "; "))
	}
	return nil
}

// DatabasePath returns the SQLite file under DataDir.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "diary.db")
}

// ExportPath returns ExportDir, or an exports directory under DataDir.
func (c *Config) ExportPath() string {
	if c.ExportDir != "" {
		return c.ExportDir
	}
	return filepath.Join(c.DataDir, "exports")
}

// RemoteConfigured reports whether a remote service URL is set.
func (c *Config) RemoteConfigured() bool {
	return c.Remote.BaseURL != ""
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
