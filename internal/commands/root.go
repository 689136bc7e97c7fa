// Package commands provides the omnichat CLI.
package commands

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"omnichat/internal/config"
)

var (
	configFlag string

	// Version is set at build time.
	Version = "0.1.0"
)

const configEnv = "OMNICHAT_CONFIG"

var rootCmd = &cobra.Command{
	Use:   "omnichat",
	Short: "Multi-model AI chat server and terminal client",
	Long: `omnichat keeps chat sessions per user and talks to many AI models
through one interface.

Examples:
  omnichat serve                       Run the HTTP API
  omnichat chat -u ada -p secret       Chat in the terminal
  omnichat chat --offline              Chat against a local echo model`,
	SilenceUsage: true,
	Version:      Version,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Config file (JSON or TOML), defaults to $"+configEnv+" or config.json")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(chatCmd)
}

func configPath() string {
	if configFlag != "" {
		return configFlag
	}
	if env := strings.TrimSpace(os.Getenv(configEnv)); env != "" {
		return env
	}
	return "config.json"
}

// loadConfig reads the config file; with allowMissing a missing file yields
// the defaults.
func loadConfig(allowMissing bool) (*config.Config, error) {
	cfg, err := config.Load(configPath())
	if err != nil {
		if allowMissing && errors.Is(err, config.ErrNotFound) {
			return config.Default(), nil
		}
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
