package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the distribution daemon",
	Long: `Run distribution cycles on the configured interval until interrupted.

Each cycle scrapes the configured sources, refreshes the semantic index,
matches and resolves leads for every active client, and delivers the
results. SIGINT/SIGTERM stop the loop after the current stage; rows already
delivered are still recorded in the ledger.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		o, err := buildOrchestrator(cmd.Context())
		if err != nil {
			return err
		}
		if !quietFlag && stdoutIsTTY() {
			fmt.Printf("pf daemon starting (cycle interval %s)\n", cfg.CycleInterval)
		}
		return o.Run(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
