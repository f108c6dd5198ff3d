// Package config loads and persists agentdeck's yaml configuration from the
// home directory.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// SyncConfig controls the synchronization manager.
type SyncConfig struct {
	// IntervalSeconds is the fixed reconciliation period. Ignored when a
	// cron expression is set.
	IntervalSeconds int `yaml:"interval_seconds"`

	// Cron is an optional 5-field cron expression overriding the fixed
	// interval.
	Cron string `yaml:"cron"`

	RetryIntervalSeconds int `yaml:"retry_interval_seconds"`
	MaxRetries           int `yaml:"max_retries"`
}

// TierConfig holds default settings for one notification tier. Runtime
// changes flow through the settings record; these are the first-run values.
type TierConfig struct {
	Enabled          bool `yaml:"enabled"`
	Sound            bool `yaml:"sound"`
	DurationMs       int  `yaml:"duration_ms"`
	UseNativeChannel bool `yaml:"use_native_channel"`
}

// NotificationsConfig holds notification delivery defaults.
type NotificationsConfig struct {
	DrainDelayMs int                   `yaml:"drain_delay_ms"`
	Tiers        map[string]TierConfig `yaml:"tiers"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	// Path is the sqlite database file relative to the home dir.
	Path string `yaml:"path"`
	// InMemory skips sqlite entirely. State does not survive a restart.
	InMemory bool `yaml:"in_memory"`
}

// OTelConfig mirrors the otel provider settings.
type OTelConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate"`
}

type Config struct {
	HomeDir string `yaml:"-"`

	LogLevel string `yaml:"log_level"`

	Sync          SyncConfig          `yaml:"sync"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Storage       StorageConfig       `yaml:"storage"`
	OTel          OTelConfig          `yaml:"otel"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LogLevel: "info",
		Sync: SyncConfig{
			IntervalSeconds:      60,
			RetryIntervalSeconds: 5,
			MaxRetries:           5,
		},
		Notifications: NotificationsConfig{
			DrainDelayMs: 300,
			Tiers: map[string]TierConfig{
				"panel":  {Enabled: true, DurationMs: 0},
				"banner": {Enabled: true, DurationMs: 5000},
				"native": {Enabled: true, DurationMs: 5000, UseNativeChannel: true},
			},
		},
		Storage: StorageConfig{
			Path: "state.db",
		},
		OTel: OTelConfig{
			Exporter:    "otlp-http",
			ServiceName: "agentdeck",
			SampleRate:  1.0,
		},
	}
}

// HomeDir resolves the home directory, honoring the AGENTDECK_HOME override.
func HomeDir() string {
	if override := os.Getenv("AGENTDECK_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".agentdeck")
}

// ConfigPath returns the path to config.yaml within the given home directory.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

// Load reads config.yaml from the home directory, merging it over the
// defaults. A missing file is not an error.
func Load() (Config, error) {
	return LoadFrom(HomeDir())
}

// LoadFrom is Load with an explicit home directory.
func LoadFrom(homeDir string) (Config, error) {
	cfg := Default()
	cfg.HomeDir = homeDir

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create agentdeck home: %w", err)
	}

	data, err := os.ReadFile(ConfigPath(cfg.HomeDir))
	if err != nil && !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read config.yaml: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	return cfg, nil
}

// Save writes the configuration back to config.yaml.
func Save(cfg Config) error {
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config.yaml: %w", err)
	}
	return os.WriteFile(ConfigPath(cfg.HomeDir), out, 0o644)
}

func normalize(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Sync.IntervalSeconds <= 0 {
		cfg.Sync.IntervalSeconds = 60
	}
	if cfg.Sync.RetryIntervalSeconds <= 0 {
		cfg.Sync.RetryIntervalSeconds = 5
	}
	if cfg.Sync.MaxRetries <= 0 {
		cfg.Sync.MaxRetries = 5
	}
	if cfg.Notifications.DrainDelayMs <= 0 {
		cfg.Notifications.DrainDelayMs = 300
	}
	if strings.TrimSpace(cfg.Storage.Path) == "" {
		cfg.Storage.Path = "state.db"
	}
	if cfg.OTel.Exporter == "" {
		cfg.OTel.Exporter = "otlp-http"
	}
	if cfg.OTel.ServiceName == "" {
		cfg.OTel.ServiceName = "agentdeck"
	}
	if cfg.OTel.SampleRate <= 0 {
		cfg.OTel.SampleRate = 1.0
	}
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("AGENTDECK_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("AGENTDECK_SYNC_INTERVAL_SECONDS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.Sync.IntervalSeconds = v
		}
	}
	if raw := os.Getenv("AGENTDECK_SYNC_CRON"); raw != "" {
		cfg.Sync.Cron = raw
	}
	if raw := os.Getenv("AGENTDECK_STORAGE_PATH"); raw != "" {
		cfg.Storage.Path = raw
	}
	if raw := os.Getenv("AGENTDECK_OTEL_ENDPOINT"); raw != "" {
		cfg.OTel.Endpoint = raw
	}
}
