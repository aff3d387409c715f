package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ecrowe/taskforge/internal/dispatcher"
)

var (
	checkpointsRun   string
	checkpointsStats bool
)

var checkpointsCmd = &cobra.Command{
	Use:   "checkpoints",
	Short: "List saved checkpoints and run history",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		d, err := newEngine(cfg)
		if err != nil {
			return err
		}
		defer d.Close()

		if checkpointsStats {
			return printHistoryStats(d)
		}

		infos, err := d.Checkpoints(checkpointsRun)
		if err != nil {
			return err
		}
		if len(infos) == 0 {
			fmt.Println("No checkpoints found.")
			return nil
		}

		bold := color.New(color.Bold)
		bold.Printf("%-36s  %-8s  %-10s  %s\n", "CHECKPOINT", "RUN", "REASON", "CREATED")
		for _, info := range infos {
			fmt.Printf("%-36s  %-8s  %-10s  %s\n",
				info.ID, shortID(info.RunID), info.Reason, info.CreatedAt)
		}
		return nil
	},
}

func printHistoryStats(d *dispatcher.Dispatcher) error {
	hist := d.History()
	if hist == nil {
		return fmt.Errorf("run history is disabled")
	}

	stats, err := hist.Stats()
	if err != nil {
		return err
	}
	if stats.Runs == 0 {
		fmt.Println("No recorded runs.")
		return nil
	}

	fmt.Printf("Runs:                %d\n", stats.Runs)
	fmt.Printf("Tasks executed:      %d (%d completed, %d failed)\n",
		stats.TotalTasks, stats.TotalCompleted, stats.TotalFailed)
	fmt.Printf("Avg wall time:       %s\n", stats.AvgWallTime.Round(time.Millisecond))
	fmt.Printf("Avg parallel eff.:   %.0f%%\n", stats.AvgParallelEfficiency*100)

	records, err := hist.List(10)
	if err != nil {
		return err
	}
	if len(records) > 0 {
		fmt.Println("\nRecent runs:")
		for _, r := range records {
			status := color.GreenString("ok")
			if r.Failed > 0 || r.Cancelled > 0 {
				status = color.RedString("failed")
			}
			fmt.Printf("  %s  %-6s  %d/%d tasks  %s  %s\n",
				shortID(r.RunID), status, r.Completed, r.TotalTasks,
				r.WallTime.Round(time.Millisecond), r.FinishedAt.Format(time.RFC3339))
		}
	}
	return nil
}

func init() {
	checkpointsCmd.Flags().StringVar(&checkpointsRun, "run", "", "Only list checkpoints for this run ID")
	checkpointsCmd.Flags().BoolVar(&checkpointsStats, "stats", false, "Print aggregate run-history statistics")
}
