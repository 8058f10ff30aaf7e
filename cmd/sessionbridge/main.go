package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/codefionn/sessionbridge/internal/config"
	"github.com/codefionn/sessionbridge/internal/logger"
)

var (
	configFile string
	hostURL    string
	authToken  string
	logLevel   string

	// cfg is loaded by the root command before any subcommand runs
	cfg *config.Config
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "sessionbridge",
	Short: "Drive interactive remote coding sessions",
	Long: `sessionbridge attaches to a remote session host, starts sessions inside
named workspaces, streams their output, and answers their permission prompts.

Configuration is read from the config file (see 'sessionbridge config path'),
then SESSIONBRIDGE_* environment variables, then command line flags.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Configuration file (JSON); defaults to the user config dir")
	rootCmd.PersistentFlags().StringVar(&hostURL, "host", "", "Session host URL, e.g. http://localhost:8940")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", "", "Bearer token for the session host")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error, none")

	rootCmd.AddCommand(newWorkspacesCmd())
	rootCmd.AddCommand(newSessionsCmd())
	rootCmd.AddCommand(newAttachCmd())
	rootCmd.AddCommand(newDevHostCmd())
	rootCmd.AddCommand(newConfigCmd())
}

func configPath() string {
	if configFile != "" {
		return configFile
	}
	return config.GetConfigPath()
}

func loadConfig(cmd *cobra.Command, args []string) error {
	loaded, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	loaded.ApplyEnv()

	if hostURL != "" {
		loaded.HostURL = strings.TrimSpace(hostURL)
	}
	if authToken != "" {
		loaded.AuthToken = authToken
	}
	if logLevel != "" {
		loaded.LogLevel = logLevel
	}

	if err := loaded.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := logger.Init(logger.ParseLevel(loaded.LogLevel), loaded.LogPath); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	cfg = loaded
	logger.Debug("configuration loaded from %s", configPath())
	return nil
}
