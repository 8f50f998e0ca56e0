package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	appconfig "github.com/Iron-Ham/tether/internal/config"
)

// resetViper isolates a test from the global viper state
func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	appconfig.SetDefaults()
	t.Cleanup(viper.Reset)
}

func TestWriteDefaultConfig(t *testing.T) {
	var buf bytes.Buffer
	if err := writeDefaultConfig(&buf); err != nil {
		t.Fatalf("writeDefaultConfig() error = %v", err)
	}
	text := buf.String()

	for _, want := range []string{
		"# tether configuration",
		"# Bridge engine: one per chat platform",
		"auto_approve_minutes: 30",
		"# debug, info, warn, error",
		"backend: json",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("default config missing %q:\n%s", want, text)
		}
	}

	// The file must load back into the defaults
	var cfg appconfig.Config
	if err := yaml.Unmarshal(buf.Bytes(), &cfg); err != nil {
		t.Fatalf("yaml.Unmarshal() error = %v", err)
	}
	if cfg != *appconfig.Default() {
		t.Errorf("round trip = %+v, want defaults", cfg)
	}
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		key     string
		value   string
		want    any
		wantErr string
	}{
		{"bridge.auto_approve_minutes", "15", 15, ""},
		{"bridge.unbind_on_exit", "true", true, ""},
		{"bridge.default_platform", "slack", "slack", ""},
		{"storage.backend", "sqlite", "sqlite", ""},
		{"logging.level", "debug", "debug", ""},
		{"storage.backend", "redis", nil, "Valid options: json, sqlite"},
		{"logging.level", "loud", nil, "Valid options"},
		{"bridge.unbind_on_exit", "yes", nil, "expected true or false"},
		{"bridge.batch_delay_ms", "soon", nil, "expected integer"},
		{"bridge.batch_delay_ms", "-1", nil, "non-negative"},
		{"bridge.colour", "red", nil, "unknown configuration key"},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			got, err := parseValue(tt.key, tt.value)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("parseValue() error = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseValue() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("parseValue() = %v (%T), want %v", got, got, tt.want)
			}
		})
	}
}

func TestRunConfigInit(t *testing.T) {
	resetViper(t)
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	var out bytes.Buffer
	configInitCmd.SetOut(&out)
	if err := runConfigInit(configInitCmd, nil); err != nil {
		t.Fatalf("runConfigInit() error = %v", err)
	}
	if _, err := os.Stat(appconfig.ConfigFile()); err != nil {
		t.Fatalf("config file not created: %v", err)
	}
	if !strings.Contains(out.String(), "Created config file") {
		t.Errorf("output = %q", out.String())
	}

	// A second init refuses to overwrite
	if err := runConfigInit(configInitCmd, nil); err == nil {
		t.Error("second init should fail")
	}
}

func TestRunConfigSetAndShow(t *testing.T) {
	resetViper(t)
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	var out bytes.Buffer
	configSetCmd.SetOut(&out)
	if err := runConfigSet(configSetCmd, []string{"bridge.default_platform", "discord"}); err != nil {
		t.Fatalf("runConfigSet() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(appconfig.ConfigDir(), "config.yaml"))
	if err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	if !strings.Contains(string(data), "default_platform: discord") {
		t.Errorf("config file = %s", data)
	}

	out.Reset()
	configShowCmd.SetOut(&out)
	showYAML = true
	t.Cleanup(func() { showYAML = false })
	if err := runConfigShow(configShowCmd, nil); err != nil {
		t.Fatalf("runConfigShow() error = %v", err)
	}
	if !strings.Contains(out.String(), "default_platform: discord") {
		t.Errorf("show --yaml = %s", out.String())
	}
}

func TestRunConfigValidate(t *testing.T) {
	resetViper(t)

	var out bytes.Buffer
	configValidateCmd.SetOut(&out)
	if err := runConfigValidate(configValidateCmd, nil); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}

	viper.Set("storage.backend", "redis")
	err := runConfigValidate(configValidateCmd, nil)
	if err == nil || !strings.Contains(err.Error(), "storage.backend") {
		t.Errorf("runConfigValidate() error = %v, want storage.backend failure", err)
	}
}
