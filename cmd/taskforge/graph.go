package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	graphFormat   string
	graphSpecFile string
)

var graphCmd = &cobra.Command{
	Use:   "graph [spec...]",
	Short: "Export the planned task graph as json, yaml, or mermaid",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		spec, err := readSpec(args, graphSpecFile)
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

		export := plan.Graph.Export()
		switch graphFormat {
		case "json":
			data, err := export.JSON()
			if err != nil {
				return err
			}
			fmt.Println(string(data))
		case "yaml":
			data, err := export.YAML()
			if err != nil {
				return err
			}
			fmt.Print(string(data))
		case "mermaid":
			fmt.Print(export.Mermaid())
		default:
			return fmt.Errorf("unknown format %q: want json, yaml, or mermaid", graphFormat)
		}
		return nil
	},
}

func init() {
	graphCmd.Flags().StringVar(&graphFormat, "format", "json", "Output format: json, yaml, or mermaid")
	graphCmd.Flags().StringVarP(&graphSpecFile, "file", "f", "", "Read the spec from a file")
}
