package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var planSpecFile string

var planCmd = &cobra.Command{
	Use:   "plan [spec...]",
	Short: "Decompose a spec and print the task graph without executing",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		spec, err := readSpec(args, planSpecFile)
		if err != nil {
			return err
		}

		d, err := newEngine(cfg)
		if err != nil {
			return err
		}
		defer d.Close()

		plan, err := d.Plan(cmd.Context(), spec)
		if err != nil {
			return err
		}

		bold := color.New(color.Bold)
		bold.Printf("Plan: %d tasks, %d dependencies\n\n", len(plan.Tasks), len(plan.Edges))

		byID := make(map[string]string, len(plan.Tasks))
		for _, t := range plan.Tasks {
			byID[t.ID] = t.Title
		}
		for _, t := range plan.Tasks {
			fmt.Printf("  [%s] %s (%s, %s, priority %d)\n",
				shortID(t.ID), t.Title, t.Capability, t.Complexity, t.Priority)
			var needs []string
			for _, e := range plan.Edges {
				if e.To == t.ID {
					needs = append(needs, fmt.Sprintf("%s (%s)", byID[e.From], e.Type))
				}
			}
			if len(needs) > 0 {
				color.New(color.FgHiBlack).Printf("      after: %s\n", strings.Join(needs, ", "))
			}
		}

		phases, err := plan.Graph.Phases()
		if err != nil {
			return err
		}
		fmt.Println()
		for i, phase := range phases {
			titles := make([]string, len(phase))
			for j, id := range phase {
				titles[j] = byID[id]
			}
			fmt.Printf("Phase %d: %s\n", i+1, strings.Join(titles, ", "))
		}

		cp, err := plan.Graph.ComputeCriticalPath()
		if err == nil && len(cp.TaskIDs) > 0 {
			fmt.Printf("\nCritical path: %d tasks, %s estimated\n", len(cp.TaskIDs), cp.Length)
		}
		return nil
	},
}

func init() {
	planCmd.Flags().StringVarP(&planSpecFile, "file", "f", "", "Read the spec from a file")
}
