package main

import (
	"fmt"

	"github.com/spf13/cobra"

	permitflow "github.com/permitflow/permitflow"
)

// Build can be set via ldflags at compile time.
var Build = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		if jsonOutput {
			outputJSON(map[string]string{
				"version": permitflow.Version,
				"build":   Build,
			})
			return
		}
		fmt.Printf("pf version %s (%s)\n", permitflow.Version, Build)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
