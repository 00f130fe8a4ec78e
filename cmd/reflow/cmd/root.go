package cmd

import (
	"fmt"
	"os"

	"github.com/deepnoodle-ai/reflow/config"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "reflow",
	Short: "Inspect and operate restart-controlled runs",
	Long: `reflow inspects the run journal produced by the restart controller:
list runs, show the attempt history of one run, watch for changes, and
resume paused runs.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (yaml or json)")
}

// loadConfig returns the configuration from --config, or defaults
func loadConfig() (*config.Config, error) {
	if configPath == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}
