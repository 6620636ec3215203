// Package config holds all configuration types and loading logic for
// EpochSync, shared by the epochsync CLI and the epochsync-store server.
// Config structure never shrinks: fields are only added, never renamed or removed.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store"`
	Identity  IdentityConfig  `yaml:"identity"`
	Notify    NotifyConfig    `yaml:"notify"`
	Session   SessionConfig   `yaml:"session"`
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Log       LogConfig       `yaml:"log"`
}

// StoreDriver selects the Store implementation the CLI talks to.
type StoreDriver string

const (
	StoreRemote StoreDriver = "remote" // epochsync-store over HTTP, the default
	StoreBolt   StoreDriver = "bolt"   // local bbolt file, single host only
	StoreMemory StoreDriver = "memory" // process-local, dry runs only
)

// StoreConfig controls where timer records are kept.
type StoreConfig struct {
	Driver    StoreDriver `yaml:"driver"`
	URL       string      `yaml:"url"`
	APIKey    string      `yaml:"api_key"`
	TimeoutMs int         `yaml:"timeout_ms"`
	BoltPath  string      `yaml:"bolt_path"`
}

// Timeout returns TimeoutMs as a time.Duration.
func (s StoreConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutMs) * time.Millisecond
}

// IdentityConfig controls how the ConnectionId is derived.
type IdentityConfig struct {
	// Source is "machine-id", "file", or "static".
	Source  string `yaml:"source"`
	Static  string `yaml:"static"`
	DataDir string `yaml:"data_dir"`
}

// NotifyConfig controls what happens when a timer fires.
type NotifyConfig struct {
	Message          string        `yaml:"message"`
	Bell             bool          `yaml:"bell"`
	Command          string        `yaml:"command"`
	Args             []string      `yaml:"args"`
	CommandTimeoutMs int           `yaml:"command_timeout_ms"`
	Webhook          WebhookConfig `yaml:"webhook"`
}

// WebhookConfig controls the optional webhook notifier. An empty URL
// disables it.
type WebhookConfig struct {
	URL    string `yaml:"url"`
	Secret string `yaml:"secret"`
	// RetryDelaysMs is the list of delays between successive retry attempts.
	RetryDelaysMs []int `yaml:"retry_delays_ms"`
	TimeoutMs     int   `yaml:"timeout_ms"`
}

// SessionConfig controls the participant operations.
type SessionConfig struct {
	// FollowCancel makes a waiting participant watch its record and give up
	// when the record is deleted or replaced by another run. Off by default:
	// a waiter normally fires even if the owner cancels.
	FollowCancel bool `yaml:"follow_cancel"`
}

// ServerConfig holds identity and network settings for epochsync-store.
type ServerConfig struct {
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	DataDir string `yaml:"data_dir"`
}

// AuthConfig controls API key authentication on the server.
type AuthConfig struct {
	Enabled bool   `yaml:"enabled"`
	APIKey  string `yaml:"api_key"`
}

// RateLimitConfig sets per-client-IP token-bucket limits on the server.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// MetricsConfig controls the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // json | text
}

// Default returns a Config populated with safe, sensible defaults.
// It is the canonical source of truth for default values.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Driver:    StoreRemote,
			URL:       "http://localhost:8080",
			TimeoutMs: 10_000,
			BoltPath:  filepath.Join(defaultStateDir(), "records.db"),
		},
		Identity: IdentityConfig{
			Source:  "machine-id",
			DataDir: defaultStateDir(),
		},
		Notify: NotifyConfig{
			Message:          "Time's up!",
			Bell:             true,
			CommandTimeoutMs: 5_000,
			Webhook: WebhookConfig{
				RetryDelaysMs: []int{1_000, 5_000},
				TimeoutMs:     5_000,
			},
		},
		Session: SessionConfig{
			FollowCancel: false,
		},
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    8080,
			DataDir: "./data",
		},
		Auth: AuthConfig{
			Enabled: false,
			APIKey:  "",
		},
		RateLimit: RateLimitConfig{
			RPS:   100,
			Burst: 200,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// defaultStateDir is $HOME/.epochsync, or ./.epochsync when there is no home.
func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".epochsync"
	}
	return filepath.Join(home, ".epochsync")
}

// Load reads a YAML config file at path and overlays it on top of Default().
// If the file does not exist the default config is returned without error,
// making it easy to run EpochSync with no config file at all.
//
// After loading the file, environment variables are applied as overrides:
//
//	EPOCHSYNC_STORE_URL     sets store.url
//	EPOCHSYNC_API_KEY       sets store.api_key (the key the CLI sends)
//	EPOCHSYNC_AUTH_API_KEY  sets auth.api_key and enables auth on the server
//	EPOCHSYNC_DATA_DIR      sets server.data_dir
//	EPOCHSYNC_PORT          sets server.port
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			applyEnv(cfg)
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnv(cfg)
	return cfg, nil
}

// applyEnv overlays environment variable overrides onto cfg.
func applyEnv(cfg *Config) {
	if v := os.Getenv("EPOCHSYNC_STORE_URL"); v != "" {
		cfg.Store.URL = v
	}
	if v := os.Getenv("EPOCHSYNC_API_KEY"); v != "" {
		cfg.Store.APIKey = v
	}
	if v := os.Getenv("EPOCHSYNC_AUTH_API_KEY"); v != "" {
		cfg.Auth.APIKey = v
		cfg.Auth.Enabled = true
	}
	if v := os.Getenv("EPOCHSYNC_DATA_DIR"); v != "" {
		cfg.Server.DataDir = v
	}
	if v := os.Getenv("EPOCHSYNC_PORT"); v != "" {
		var p int
		if _, err := fmt.Sscanf(v, "%d", &p); err == nil && p > 0 {
			cfg.Server.Port = p
		}
	}
}

// Validate checks that the config values are consistent and within acceptable
// ranges. It returns the first error found.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case StoreRemote:
		if c.Store.URL == "" {
			return errors.New(`store.url must not be empty when store.driver is "remote"`)
		}
	case StoreBolt:
		if c.Store.BoltPath == "" {
			return errors.New(`store.bolt_path must not be empty when store.driver is "bolt"`)
		}
	case StoreMemory:
		// valid
	default:
		return errors.New(`store.driver must be one of "remote", "bolt", "memory"`)
	}
	if c.Store.TimeoutMs < 1 {
		return errors.New("store.timeout_ms must be at least 1")
	}
	switch c.Identity.Source {
	case "machine-id":
	case "file":
		if c.Identity.DataDir == "" {
			return errors.New(`identity.data_dir must not be empty when identity.source is "file"`)
		}
	case "static":
		if c.Identity.Static == "" {
			return errors.New(`identity.static must not be empty when identity.source is "static"`)
		}
	default:
		return errors.New(`identity.source must be one of "machine-id", "file", "static"`)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return errors.New("server.port must be between 1 and 65535")
	}
	if c.Server.DataDir == "" {
		return errors.New("server.data_dir must not be empty")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return errors.New("auth.api_key must be set when auth.enabled is true")
	}
	if c.RateLimit.RPS <= 0 {
		return errors.New("rate_limit.rps must be positive")
	}
	if c.RateLimit.Burst < 1 {
		return errors.New("rate_limit.burst must be at least 1")
	}
	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return errors.New("metrics.port must be between 1 and 65535")
	}
	for _, d := range c.Notify.Webhook.RetryDelaysMs {
		if d < 0 {
			return errors.New("notify.webhook.retry_delays_ms must not contain negative values")
		}
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return errors.New(`log.format must be one of "json", "text"`)
	}
	return nil
}
