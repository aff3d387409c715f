package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ecrowe/taskforge/internal/config"
	"github.com/ecrowe/taskforge/internal/dispatcher"
	"github.com/ecrowe/taskforge/internal/plugin"
	"github.com/ecrowe/taskforge/internal/tui"
	"github.com/ecrowe/taskforge/pkg/models"
)

var (
	runWatch    bool
	runSpecFile string
)

var runCmd = &cobra.Command{
	Use:   "run [spec...]",
	Short: "Decompose a spec and execute it",
	Long: `Run decomposes the spec into tasks, resolves their dependencies,
and executes the resulting graph with a pool of agents. The spec is given as
arguments or read from a file with --file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		spec, err := readSpec(args, runSpecFile)
		if err != nil {
			return err
		}

		d, err := newEngine(cfg)
		if err != nil {
			return err
		}
		defer d.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if runWatch {
			return runWithDashboard(ctx, d, spec)
		}

		res, err := d.Run(ctx, spec)
		if err != nil {
			return err
		}
		printSummary(res)
		if !res.Succeeded() {
			os.Exit(1)
		}
		return nil
	},
}

// runWithDashboard plans first so the TUI can seed itself with the task
// set, then executes while the dashboard consumes bus events.
func runWithDashboard(ctx context.Context, d *dispatcher.Dispatcher, spec string) error {
	plan, err := d.Plan(ctx, spec)
	if err != nil {
		return err
	}

	sub, err := tui.Subscribe(d.Events())
	if err != nil {
		return err
	}

	tasks := make([]models.Task, len(plan.Tasks))
	for i, t := range plan.Tasks {
		tasks[i] = *t
	}
	program, wait := tui.Run(tui.New(tasks, sub))

	resCh := make(chan *models.Result, 1)
	go func() {
		res, runErr := d.RunPlanned(ctx, plan, spec)
		msg := tui.RunDoneMsg{Message: "run finished"}
		if runErr != nil {
			msg.Message = runErr.Error()
		} else if res.Succeeded() {
			msg.Success = true
			msg.Message = fmt.Sprintf("%d tasks completed in %s",
				res.StatusCounts[models.TaskStatusCompleted], res.WallTime.Round(time.Millisecond))
		} else {
			msg.Message = fmt.Sprintf("%d failed, %d skipped",
				res.StatusCounts[models.TaskStatusFailed], res.StatusCounts[models.TaskStatusSkipped])
		}
		program.Send(msg)
		resCh <- res
	}()

	if err := wait(); err != nil {
		return err
	}
	if res := <-resCh; res != nil {
		printSummary(res)
	}
	return nil
}

// newEngine assembles a dispatcher from config: model backend if available,
// plugin registry if configured.
func newEngine(cfg *config.Config) (*dispatcher.Dispatcher, error) {
	var opts []dispatcher.Option

	completer, err := dispatcher.NewCompleterFromConfig(cfg)
	if err != nil {
		color.Yellow("No model backend (%v); decomposition and resolution run rule-only", err)
	} else {
		opts = append(opts, dispatcher.WithCompleter(completer))
	}

	if cfg.Plugins.Dir != "" {
		registry, err := plugin.NewRegistry(cfg.Plugins.Dir)
		if err != nil {
			return nil, err
		}
		if cfg.Plugins.Watch {
			if err := registry.Watch(); err != nil {
				log.Printf("[cli] plugin watcher unavailable: %v", err)
			}
		}
		opts = append(opts, dispatcher.WithPlugins(registry))
	}

	return dispatcher.New(cfg, opts...)
}

// readSpec assembles the spec from arguments or a file flag.
func readSpec(args []string, file string) (string, error) {
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("reading spec file: %w", err)
		}
		return string(data), nil
	}
	spec := strings.TrimSpace(strings.Join(args, " "))
	if spec == "" {
		return "", fmt.Errorf("no spec given: pass it as arguments or with --file")
	}
	return spec, nil
}

// printSummary writes the human run report.
func printSummary(res *models.Result) {
	fmt.Printf("\nRun %s finished in %s\n", shortID(res.RunID), res.WallTime.Round(time.Millisecond))

	statusColors := map[models.TaskStatus]*color.Color{
		models.TaskStatusCompleted: color.New(color.FgGreen),
		models.TaskStatusFailed:    color.New(color.FgRed),
		models.TaskStatusSkipped:   color.New(color.FgYellow),
		models.TaskStatusCancelled: color.New(color.FgHiBlack),
	}
	for _, task := range res.Tasks {
		c, ok := statusColors[task.Status]
		if !ok {
			c = color.New(color.FgWhite)
		}
		line := fmt.Sprintf("  %-9s %s", task.Status, task.Title)
		if task.SkipReason != "" {
			line += " (" + task.SkipReason + ")"
		}
		c.Println(line)
	}

	if len(res.CriticalPath) > 0 {
		fmt.Printf("Critical path: %d tasks, %s estimated\n",
			len(res.CriticalPath), res.CriticalPathLength)
	}
	if res.ParallelEfficiency > 0 {
		fmt.Printf("Parallel efficiency: %.0f%%\n", res.ParallelEfficiency*100)
	}
	if res.Succeeded() {
		color.Green("✓ all tasks completed")
	} else {
		color.Red("✗ run had failures")
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	runCmd.Flags().BoolVar(&runWatch, "watch", false, "Show a live dashboard while the run executes")
	runCmd.Flags().StringVarP(&runSpecFile, "file", "f", "", "Read the spec from a file")
}
