// Package config loads and persists jitmod configuration.
//
// Configuration lives in a single YAML file. A missing file is not an
// error: Load returns defaults so the binary runs with zero setup.
// Environment variables override file values for the settings most
// likely to differ between deployments.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all jitmod configuration.
//
// The data_dir value and the logging section are also read directly by
// the logging package, which parses the same file when it initializes.
// The yaml tags here and there must stay in sync.
type Config struct {
	// DataDir is the root for everything jitmod writes: the module
	// cache, usage stats, and logs.
	DataDir string `yaml:"data_dir"`

	Server  ServerConfig  `yaml:"server"`
	Backend BackendConfig `yaml:"backend"`
	Store   StoreConfig   `yaml:"store"`
	Cache   CacheConfig   `yaml:"cache"`
	Logging LoggingConfig `yaml:"logging"`
	Usage   UsageConfig   `yaml:"usage"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host               string `yaml:"host"`
	Port               int    `yaml:"port"`
	ShutdownTimeoutSec int    `yaml:"shutdown_timeout_sec"`
}

// BackendConfig configures the text-generation backend.
type BackendConfig struct {
	Provider        string `yaml:"provider"` // gemini, gemini-http, openai
	Model           string `yaml:"model"`
	APIKey          string `yaml:"api_key"`
	BaseURL         string `yaml:"base_url"`
	TimeoutSec      int    `yaml:"timeout_sec"`
	MaxAttempts     int    `yaml:"max_attempts"`
	MinIntervalMS   int    `yaml:"min_interval_ms"`
	MaxOutputTokens int    `yaml:"max_output_tokens"`
}

// StoreConfig configures the module cache store.
type StoreConfig struct {
	// Path to the SQLite database. Empty means <data_dir>/modules.db.
	Path string `yaml:"path"`
}

// CacheConfig configures the retention policy for cached modules.
// Ready modules are permanent; the policy only governs Failed records
// and stale Pending reservations.
type CacheConfig struct {
	CleanupMode          string  `yaml:"cleanup_mode"` // age or size
	MaxFailedAgeHours    float64 `yaml:"max_failed_age_hours"`
	MaxPendingAgeMinutes float64 `yaml:"max_pending_age_minutes"`
	MaxSourceBytes       int64   `yaml:"max_source_bytes"`

	// CleanupIntervalMinutes is how often serve runs a cleanup pass.
	// Zero disables the background pass.
	CleanupIntervalMinutes float64 `yaml:"cleanup_interval_minutes"`
}

// LoggingConfig configures category logging.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories,omitempty"`
	Level      string          `yaml:"level"` // debug, info, warn, error
	JSONFormat bool            `yaml:"json_format"`
}

// UsageConfig configures usage accounting.
type UsageConfig struct {
	// Path to the usage stats file. Empty means <data_dir>/usage.json.
	Path string `yaml:"path"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		DataDir: ".jitmod",

		Server: ServerConfig{
			Host:               "0.0.0.0",
			Port:               8090,
			ShutdownTimeoutSec: 15,
		},

		Backend: BackendConfig{
			Provider:        "gemini",
			Model:           "gemini-2.5-flash",
			TimeoutSec:      120,
			MaxAttempts:     3,
			MinIntervalMS:   100,
			MaxOutputTokens: 8192,
		},

		Cache: CacheConfig{
			CleanupMode:            "age",
			MaxFailedAgeHours:      24,
			MaxPendingAgeMinutes:   10,
			MaxSourceBytes:         10485760, // 10 MB
			CleanupIntervalMinutes: 60,
		},

		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults; environment overrides apply either way.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("JITMOD_API_KEY"); key != "" {
		c.Backend.APIKey = key
	}
	if c.Backend.APIKey == "" {
		// The Gemini SDK's own convention, honored as a fallback.
		if key := os.Getenv("GEMINI_API_KEY"); key != "" {
			c.Backend.APIKey = key
		}
	}
	if model := os.Getenv("JITMOD_MODEL"); model != "" {
		c.Backend.Model = model
	}
	if provider := os.Getenv("JITMOD_PROVIDER"); provider != "" {
		c.Backend.Provider = provider
	}
	if port := os.Getenv("JITMOD_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil && p > 0 {
			c.Server.Port = p
		}
	}
	if path := os.Getenv("JITMOD_STORE"); path != "" {
		c.Store.Path = path
	}
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	switch c.Backend.Provider {
	case "", "gemini", "gemini-http", "openai":
	default:
		return fmt.Errorf("unknown backend provider %q", c.Backend.Provider)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	switch c.Cache.CleanupMode {
	case "", "age", "size":
	default:
		return fmt.Errorf("unknown cleanup mode %q", c.Cache.CleanupMode)
	}
	if c.Backend.MaxAttempts < 0 {
		return fmt.Errorf("backend max_attempts must not be negative")
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// StorePath returns the module cache path, defaulting into DataDir.
func (c *Config) StorePath() string {
	if c.Store.Path != "" {
		return c.Store.Path
	}
	return filepath.Join(c.DataDir, "modules.db")
}

// UsagePath returns the usage stats path, defaulting into DataDir.
func (c *Config) UsagePath() string {
	if c.Usage.Path != "" {
		return c.Usage.Path
	}
	return filepath.Join(c.DataDir, "usage.json")
}

// ShutdownTimeout returns the graceful shutdown drain window.
func (c *Config) ShutdownTimeout() time.Duration {
	if c.Server.ShutdownTimeoutSec <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.Server.ShutdownTimeoutSec) * time.Second
}

// BackendTimeout returns the per-call backend timeout.
func (c *Config) BackendTimeout() time.Duration {
	if c.Backend.TimeoutSec <= 0 {
		return 120 * time.Second
	}
	return time.Duration(c.Backend.TimeoutSec) * time.Second
}

// MinInterval returns the minimum spacing between backend calls.
func (c *Config) MinInterval() time.Duration {
	if c.Backend.MinIntervalMS <= 0 {
		return 0
	}
	return time.Duration(c.Backend.MinIntervalMS) * time.Millisecond
}

// CleanupInterval returns the background cleanup period. Zero disables.
func (c *Config) CleanupInterval() time.Duration {
	if c.Cache.CleanupIntervalMinutes <= 0 {
		return 0
	}
	return time.Duration(c.Cache.CleanupIntervalMinutes * float64(time.Minute))
}

// RequiresRestart lists the settings in next whose change cannot be
// applied to a running server. The watcher logs these instead of
// swapping them in.
func (c *Config) RequiresRestart(next *Config) []string {
	var fields []string
	if c.DataDir != next.DataDir {
		fields = append(fields, "data_dir")
	}
	if c.Server != next.Server {
		fields = append(fields, "server")
	}
	if c.Backend != next.Backend {
		fields = append(fields, "backend")
	}
	if c.StorePath() != next.StorePath() {
		fields = append(fields, "store.path")
	}
	if c.UsagePath() != next.UsagePath() {
		fields = append(fields, "usage.path")
	}
	return fields
}
