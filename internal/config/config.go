package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/Iron-Ham/tether/internal/bridge"
	"github.com/Iron-Ham/tether/internal/logging"
	"github.com/Iron-Ham/tether/internal/subscriber"
)

// Config represents the complete tether configuration
type Config struct {
	Bridge     BridgeConfig     `mapstructure:"bridge" yaml:"bridge"`
	Subscriber SubscriberConfig `mapstructure:"subscriber" yaml:"subscriber"`
	Storage    StorageConfig    `mapstructure:"storage" yaml:"storage"`
	Logging    LoggingConfig    `mapstructure:"logging" yaml:"logging"`
}

// BridgeConfig controls the per-platform bridge engine
type BridgeConfig struct {
	// ErrorDebounceSeconds suppresses repeated identical error notifications
	// for a session within the window (0 = disabled, default)
	ErrorDebounceSeconds int `mapstructure:"error_debounce_seconds" yaml:"error_debounce_seconds"`
	// AutoApproveMinutes is how long "allow all", "allow dir" and
	// "allow <Tool>" timers last (default: 30)
	AutoApproveMinutes int `mapstructure:"auto_approve_minutes" yaml:"auto_approve_minutes"`
	// BatchDelayMs is the window for coalescing auto-approve notifications (default: 1500)
	BatchDelayMs int `mapstructure:"batch_delay_ms" yaml:"batch_delay_ms"`
	// UnbindOnExit releases a session's thread when the session exits.
	// When false (default), threads stay bound for post-mortem review.
	UnbindOnExit bool `mapstructure:"unbind_on_exit" yaml:"unbind_on_exit"`
	// DefaultPlatform receives sessions that have neither a thread nor a
	// platform hint. Empty means such sessions cannot be routed.
	DefaultPlatform string `mapstructure:"default_platform" yaml:"default_platform"`
	// DefaultAdapter is the agent adapter used by the new command when none
	// is named (e.g. "claude_auto", "codex_sdk_sidecar")
	DefaultAdapter string `mapstructure:"default_adapter" yaml:"default_adapter"`
	// ThreadNameMaxLen caps generated thread names (default: 64)
	ThreadNameMaxLen int `mapstructure:"thread_name_max_len" yaml:"thread_name_max_len"`
	// TypingRefreshSeconds is how often typing indicators are re-sent (default: 8)
	TypingRefreshSeconds int `mapstructure:"typing_refresh_seconds" yaml:"typing_refresh_seconds"`
	// ExternalPageSize is the number of external sessions per list page (default: 10)
	ExternalPageSize int `mapstructure:"external_page_size" yaml:"external_page_size"`
}

// SubscriberConfig controls how store events are fed to the bridges
type SubscriberConfig struct {
	// OutputFlushDelayMs holds streaming output this long before sending (default: 2000)
	OutputFlushDelayMs int `mapstructure:"output_flush_delay_ms" yaml:"output_flush_delay_ms"`
	// OutputFlushMaxChars sends buffered output once it reaches this size (default: 1800)
	OutputFlushMaxChars int `mapstructure:"output_flush_max_chars" yaml:"output_flush_max_chars"`
}

// StorageConfig controls where thread bindings are persisted
type StorageConfig struct {
	// Backend is "json" (default) or "sqlite"
	Backend string `mapstructure:"backend" yaml:"backend"`
	// Path is the binding file or database. Empty means threads.json (or
	// threads.db) in the config directory.
	Path string `mapstructure:"path" yaml:"path"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Enabled controls whether logging to a file is enabled (default: true)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level" yaml:"level"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	// MaxBackups is the number of backup log files to keep (default: 3)
	MaxBackups int `mapstructure:"max_backups" yaml:"max_backups"`
	// Compress gzips rotated log files (default: false)
	Compress bool `mapstructure:"compress" yaml:"compress"`
	// Dir is the log directory. Empty means the config directory.
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Bridge: BridgeConfig{
			ErrorDebounceSeconds: 0, // Disabled by default
			AutoApproveMinutes:   30,
			BatchDelayMs:         1500,
			UnbindOnExit:         false, // Keep threads for post-mortem review
			DefaultPlatform:      "",
			DefaultAdapter:       "",
			ThreadNameMaxLen:     64,
			TypingRefreshSeconds: 8,
			ExternalPageSize:     10,
		},
		Subscriber: SubscriberConfig{
			OutputFlushDelayMs:  2000,
			OutputFlushMaxChars: 1800,
		},
		Storage: StorageConfig{
			Backend: "json",
			Path:    "", // Empty means <config dir>/threads.json
		},
		Logging: LoggingConfig{
			Enabled:    true,
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			Compress:   false,
			Dir:        "",
		},
	}
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Bridge defaults
	viper.SetDefault("bridge.error_debounce_seconds", defaults.Bridge.ErrorDebounceSeconds)
	viper.SetDefault("bridge.auto_approve_minutes", defaults.Bridge.AutoApproveMinutes)
	viper.SetDefault("bridge.batch_delay_ms", defaults.Bridge.BatchDelayMs)
	viper.SetDefault("bridge.unbind_on_exit", defaults.Bridge.UnbindOnExit)
	viper.SetDefault("bridge.default_platform", defaults.Bridge.DefaultPlatform)
	viper.SetDefault("bridge.default_adapter", defaults.Bridge.DefaultAdapter)
	viper.SetDefault("bridge.thread_name_max_len", defaults.Bridge.ThreadNameMaxLen)
	viper.SetDefault("bridge.typing_refresh_seconds", defaults.Bridge.TypingRefreshSeconds)
	viper.SetDefault("bridge.external_page_size", defaults.Bridge.ExternalPageSize)

	// Subscriber defaults
	viper.SetDefault("subscriber.output_flush_delay_ms", defaults.Subscriber.OutputFlushDelayMs)
	viper.SetDefault("subscriber.output_flush_max_chars", defaults.Subscriber.OutputFlushMaxChars)

	// Storage defaults
	viper.SetDefault("storage.backend", defaults.Storage.Backend)
	viper.SetDefault("storage.path", defaults.Storage.Path)

	// Logging defaults
	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	viper.SetDefault("logging.compress", defaults.Logging.Compress)
	viper.SetDefault("logging.dir", defaults.Logging.Dir)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Validate the configuration
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}

// BridgeConfig converts the bridge section into the runtime bridge.Config
func (c *Config) BridgeConfig() bridge.Config {
	b := c.Bridge
	return bridge.Config{
		ErrorDebounce:     time.Duration(b.ErrorDebounceSeconds) * time.Second,
		AutoApproveWindow: time.Duration(b.AutoApproveMinutes) * time.Minute,
		BatchDelay:        time.Duration(b.BatchDelayMs) * time.Millisecond,
		UnbindOnExit:      b.UnbindOnExit,
		DefaultAdapter:    b.DefaultAdapter,
		ThreadNameMaxLen:  b.ThreadNameMaxLen,
		TypingRefresh:     time.Duration(b.TypingRefreshSeconds) * time.Second,
		ExternalPageSize:  b.ExternalPageSize,
	}
}

// SubscriberConfig converts the subscriber section into the runtime subscriber.Config
func (c *Config) SubscriberConfig() subscriber.Config {
	return subscriber.Config{
		OutputFlushDelay:    time.Duration(c.Subscriber.OutputFlushDelayMs) * time.Millisecond,
		OutputFlushMaxChars: c.Subscriber.OutputFlushMaxChars,
	}
}

// RotationConfig converts the logging section into logging.RotationConfig
func (c *Config) RotationConfig() logging.RotationConfig {
	return logging.RotationConfig{
		MaxSizeMB:  c.Logging.MaxSizeMB,
		MaxBackups: c.Logging.MaxBackups,
		Compress:   c.Logging.Compress,
	}
}

// StoragePath returns the binding store location, defaulting to a file in
// the config directory named after the backend
func (c *Config) StoragePath() string {
	if c.Storage.Path != "" {
		return expandHome(c.Storage.Path)
	}
	name := "threads.json"
	if c.Storage.Backend == "sqlite" {
		name = "threads.db"
	}
	return filepath.Join(ConfigDir(), name)
}

// LogDir returns the directory log files are written to
func (c *Config) LogDir() string {
	if c.Logging.Dir != "" {
		return expandHome(c.Logging.Dir)
	}
	return ConfigDir()
}

// expandHome replaces a leading "~/" with the user's home directory
func expandHome(path string) string {
	if len(path) < 2 || path[:2] != "~/" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "tether")
	}
	// Fall back to ~/.config/tether
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tether"
	}
	return filepath.Join(home, ".config", "tether")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// ValidStorageBackends returns the list of valid storage backends
func ValidStorageBackends() []string {
	return []string{"json", "sqlite"}
}
