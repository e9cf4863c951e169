// Package commands implements the mixlab CLI.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/lwp001/mixlab/config"
	"github.com/lwp001/mixlab/logger"
)

var (
	configPath string
	jsonLogs   bool
)

var rootCmd = &cobra.Command{
	Use:   "mixlab",
	Short: "Collaborative audio/video patching workbench",
	Long: `mixlab runs the live patching engine: a fixed-rate signal graph
executor that mediates concurrent edits from multiple client sessions and
broadcasts authoritative state changes back to every connected client.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to mixlab.toml (default: search upward from cwd)")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "emit JSON structured logs")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(initCmd)
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig resolves configuration and initialises the global logger.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFromFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	if err := logger.Initialize(jsonLogs || cfg.Log.JSON); err != nil {
		return nil, err
	}

	return cfg, nil
}
