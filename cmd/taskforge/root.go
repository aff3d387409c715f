package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ecrowe/taskforge/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "taskforge",
	Short: "Concurrent multi-agent task dispatch engine",
	Long: `Taskforge turns a free-form work specification into a dependency
graph of typed tasks and executes it with a pool of capability-matched
agents.

Core capabilities:
- Decomposes a spec into tasks with capabilities and priorities
- Infers dependencies from artifacts, ordering rules, and resource contention
- Schedules independent tasks in parallel, with retries and deadlines
- Checkpoints run state so interrupted runs can be resumed`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig loads configuration, honoring --config.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		cfg, err := config.LoadFromPath(configPath)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		return cfg, nil
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a config file (default: discovered)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(checkpointsCmd)
	rootCmd.AddCommand(versionCmd)
}
