package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ecrowe/taskforge/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the taskforge version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("taskforge %s\n", version.Get())
	},
}
