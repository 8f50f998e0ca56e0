package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	configcmd "github.com/Iron-Ham/tether/internal/cmd/config"
	"github.com/Iron-Ham/tether/internal/cmd/observability"
	replaycmd "github.com/Iron-Ham/tether/internal/cmd/replay"
	"github.com/Iron-Ham/tether/internal/cmd/threads"
	"github.com/Iron-Ham/tether/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "tether",
	Short: "Bridge agent sessions to chat threads",
	Long: `Tether connects running AI agent sessions to chat platform threads.
Each session gets its own thread where its output, permission requests and
status changes are posted, and where a human can approve tools, answer
questions and send input back to the agent.

This binary manages the bridge's configuration and persisted thread
bindings, and can replay a scripted session to preview how it renders.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/tether/config.yaml)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))

	configcmd.Register(rootCmd)
	threads.Register(rootCmd)
	replaycmd.Register(rootCmd)
	observability.Register(rootCmd)
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath("$HOME/.config/tether")
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("TETHER")
	// Replace dots with underscores for nested keys in env vars
	// e.g., TETHER_BRIDGE_DEFAULT_PLATFORM for bridge.default_platform
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}
