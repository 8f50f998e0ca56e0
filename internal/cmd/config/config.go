// Package config provides CLI commands for managing tether configuration.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	appconfig "github.com/Iron-Ham/tether/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or modify tether configuration",
	Long: `View or modify tether configuration.

Without arguments, displays the current configuration.
Use subcommands to modify settings or create a config file.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value in the user's config file.

Keys use dot notation, e.g.:
  tether config set bridge.default_platform slack
  tether config set bridge.auto_approve_minutes 15
  tether config set storage.backend sqlite

Valid keys:
  bridge.error_debounce_seconds   - Suppress repeated errors for N seconds (0 = off)
  bridge.auto_approve_minutes     - Lifetime of "allow all/dir/<Tool>" timers
  bridge.batch_delay_ms           - Window for coalescing auto-approve notices
  bridge.unbind_on_exit           - Release a session's thread on exit (true/false)
  bridge.default_platform         - Platform for sessions without a hint
  bridge.default_adapter          - Agent adapter used by the new command
  bridge.thread_name_max_len      - Maximum thread name length
  bridge.typing_refresh_seconds   - Typing indicator refresh interval
  bridge.external_page_size       - External sessions per list page
  subscriber.output_flush_delay_ms  - Hold streamed output this long
  subscriber.output_flush_max_chars - Send buffered output at this size
  storage.backend                 - Binding store: json, sqlite
  storage.path                    - Binding file or database path
  logging.enabled                 - Write a log file (true/false)
  logging.level                   - debug, info, warn, error
  logging.dir                     - Log directory`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	Long:  `Create a default config file at ~/.config/tether/config.yaml with all available options.`,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	RunE:  runConfigPath,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration for invalid values",
	RunE:  runConfigValidate,
}

var showYAML bool

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configValidateCmd)

	for _, c := range []*cobra.Command{configCmd, configShowCmd} {
		c.Flags().BoolVar(&showYAML, "yaml", false, "Print the effective configuration as YAML")
	}
}

// Register adds all config-related commands to the given parent command.
// This is the main entry point for integrating the config subpackage with
// the root command.
func Register(parent *cobra.Command) {
	parent.AddCommand(configCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg := appconfig.Get()
	out := cmd.OutOrStdout()

	if showYAML {
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		defer func() { _ = enc.Close() }()
		return enc.Encode(cfg)
	}

	fmt.Fprintln(out, "Current configuration:")
	fmt.Fprintln(out)

	// Show where config is being read from
	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "Config file: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "Config file: (none - using defaults)\n")
	}
	fmt.Fprintln(out)

	// Bridge settings
	fmt.Fprintln(out, "bridge:")
	fmt.Fprintf(out, "  error_debounce_seconds: %d\n", cfg.Bridge.ErrorDebounceSeconds)
	fmt.Fprintf(out, "  auto_approve_minutes: %d\n", cfg.Bridge.AutoApproveMinutes)
	fmt.Fprintf(out, "  batch_delay_ms: %d\n", cfg.Bridge.BatchDelayMs)
	fmt.Fprintf(out, "  unbind_on_exit: %v\n", cfg.Bridge.UnbindOnExit)
	fmt.Fprintf(out, "  default_platform: %s\n", orNone(cfg.Bridge.DefaultPlatform))
	fmt.Fprintf(out, "  default_adapter: %s\n", orNone(cfg.Bridge.DefaultAdapter))
	fmt.Fprintf(out, "  thread_name_max_len: %d\n", cfg.Bridge.ThreadNameMaxLen)
	fmt.Fprintf(out, "  typing_refresh_seconds: %d\n", cfg.Bridge.TypingRefreshSeconds)
	fmt.Fprintf(out, "  external_page_size: %d\n", cfg.Bridge.ExternalPageSize)

	// Subscriber settings
	fmt.Fprintln(out, "subscriber:")
	fmt.Fprintf(out, "  output_flush_delay_ms: %d\n", cfg.Subscriber.OutputFlushDelayMs)
	fmt.Fprintf(out, "  output_flush_max_chars: %d\n", cfg.Subscriber.OutputFlushMaxChars)

	// Storage settings
	fmt.Fprintln(out, "storage:")
	fmt.Fprintf(out, "  backend: %s\n", cfg.Storage.Backend)
	fmt.Fprintf(out, "  path: %s\n", cfg.StoragePath())

	// Logging settings
	fmt.Fprintln(out, "logging:")
	fmt.Fprintf(out, "  enabled: %v\n", cfg.Logging.Enabled)
	fmt.Fprintf(out, "  level: %s\n", cfg.Logging.Level)
	fmt.Fprintf(out, "  max_size_mb: %d\n", cfg.Logging.MaxSizeMB)
	fmt.Fprintf(out, "  max_backups: %d\n", cfg.Logging.MaxBackups)
	fmt.Fprintf(out, "  compress: %v\n", cfg.Logging.Compress)
	fmt.Fprintf(out, "  dir: %s\n", cfg.LogDir())

	return nil
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

// validKeys maps settable keys to the kind of value they take
var validKeys = map[string]string{
	"bridge.error_debounce_seconds":     "int",
	"bridge.auto_approve_minutes":       "int",
	"bridge.batch_delay_ms":             "int",
	"bridge.unbind_on_exit":             "bool",
	"bridge.default_platform":           "string",
	"bridge.default_adapter":            "string",
	"bridge.thread_name_max_len":        "int",
	"bridge.typing_refresh_seconds":     "int",
	"bridge.external_page_size":         "int",
	"subscriber.output_flush_delay_ms":  "int",
	"subscriber.output_flush_max_chars": "int",
	"storage.backend":                   "backend",
	"storage.path":                      "string",
	"logging.enabled":                   "bool",
	"logging.level":                     "level",
	"logging.dir":                       "string",
}

// parseValue converts a command line value for key, reporting keys and
// values the config cannot hold
func parseValue(key, value string) (any, error) {
	keyType, ok := validKeys[key]
	if !ok {
		return nil, fmt.Errorf("unknown configuration key: %s\nRun 'tether config set --help' to see valid keys", key)
	}

	switch keyType {
	case "backend":
		if !slices.Contains(appconfig.ValidStorageBackends(), value) {
			return nil, fmt.Errorf("invalid value for %s: %s\nValid options: %s",
				key, value, strings.Join(appconfig.ValidStorageBackends(), ", "))
		}
		return value, nil
	case "level":
		if !slices.Contains(appconfig.ValidLogLevels(), value) {
			return nil, fmt.Errorf("invalid value for %s: %s\nValid options: %s",
				key, value, strings.Join(appconfig.ValidLogLevels(), ", "))
		}
		return value, nil
	case "bool":
		if value != "true" && value != "false" {
			return nil, fmt.Errorf("invalid value for %s: expected true or false", key)
		}
		return value == "true", nil
	case "int":
		intVal, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected integer", key)
		}
		if intVal < 0 {
			return nil, fmt.Errorf("invalid value for %s: must be non-negative", key)
		}
		return intVal, nil
	default:
		return value, nil
	}
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key := args[0]
	typedValue, err := parseValue(key, args[1])
	if err != nil {
		return err
	}

	// Ensure config directory exists
	configDir := appconfig.ConfigDir()
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Set the value in viper
	viper.Set(key, typedValue)

	// Write to config file
	configFile := appconfig.ConfigFile()
	if err := viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Set %s = %v\n", key, typedValue)
	fmt.Fprintf(out, "Config saved to %s\n", configFile)

	return nil
}

// sectionComments are written above each top-level section by config init
var sectionComments = map[string]string{
	"bridge":     "Bridge engine: one per chat platform",
	"subscriber": "How session events are fed to the bridges",
	"storage":    "Where session to thread bindings are persisted\nbackend: json or sqlite; an empty path means the config directory",
	"logging":    "Log file settings; an empty dir means the config directory",
}

// keyComments are written next to individual keys by config init
var keyComments = map[string]string{
	"error_debounce_seconds": "0 disables error debouncing",
	"auto_approve_minutes":   "lifetime of allow all / allow dir / allow <Tool>",
	"unbind_on_exit":         "keep threads bound after exit for review",
	"default_platform":       "platform for sessions with no thread and no hint",
	"default_adapter":        "agent adapter used by the new command",
	"output_flush_delay_ms":  "hold streamed output this long before sending",
	"output_flush_max_chars": "send buffered output once it reaches this size",
	"level":                  "debug, info, warn, error",
}

// writeDefaultConfig renders the default configuration as commented YAML
func writeDefaultConfig(w io.Writer) error {
	var root yaml.Node
	if err := root.Encode(appconfig.Default()); err != nil {
		return fmt.Errorf("failed to encode defaults: %w", err)
	}
	root.HeadComment = "tether configuration\nSee 'tether config set --help' for every key."

	for i := 0; i+1 < len(root.Content); i += 2 {
		section, body := root.Content[i], root.Content[i+1]
		section.HeadComment = sectionComments[section.Value]
		for j := 0; j+1 < len(body.Content); j += 2 {
			key := body.Content[j]
			if c, ok := keyComments[key.Value]; ok {
				body.Content[j+1].LineComment = c
			}
		}
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&root); err != nil {
		return err
	}
	return enc.Close()
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	configDir := appconfig.ConfigDir()
	configFile := appconfig.ConfigFile()

	// Check if config file already exists
	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists at %s\nUse 'tether config set' to modify values", configFile)
	}

	// Create config directory
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.OpenFile(configFile, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	if err := writeDefaultConfig(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write config file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Created config file at %s\n", configFile)
	fmt.Fprintln(out, "Edit this file to customize tether's behavior.")

	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	configFile := appconfig.ConfigFile()

	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "Active config: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "Default path: %s (not created)\n", configFile)
	}

	// Also show config search paths
	fmt.Fprintln(out, "\nSearch paths:")
	fmt.Fprintf(out, "  1. %s\n", filepath.Join(appconfig.ConfigDir(), "config.yaml"))
	fmt.Fprintf(out, "  2. $HOME/.config/tether/config.yaml\n")
	fmt.Fprintf(out, "  3. ./config.yaml (current directory)\n")
	fmt.Fprintln(out, "\nEnvironment variables: TETHER_* (e.g., TETHER_BRIDGE_DEFAULT_PLATFORM)")

	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	if _, err := appconfig.Load(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Configuration is valid.")
	return nil
}
