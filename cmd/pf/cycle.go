package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var cycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "Run one distribution cycle and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		o, err := buildOrchestrator(cmd.Context())
		if err != nil {
			return err
		}
		sum, err := o.RunCycle(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(sum)
			return nil
		}
		fmt.Printf("cycle %s finished in %s\n", sum.CycleID, sum.Finished.Sub(sum.Started).Round(time.Millisecond))
		for _, src := range sum.Sources {
			if src.Err != nil {
				fmt.Printf("  source %-12s FAILED: %v\n", src.Source, src.Err)
				continue
			}
			fmt.Printf("  source %-12s +%d new, %d duplicate, %d dropped\n",
				src.Source, src.Stats.Inserted, src.Stats.Skipped, src.Stats.Dropped)
		}
		if sum.Index.FullRebuild {
			fmt.Printf("  index rebuilt: %d vectors\n", sum.Index.Vectors)
		} else {
			fmt.Printf("  index refreshed: +%d vectors (%d total)\n", sum.Index.Added, sum.Index.Vectors)
		}
		for _, c := range sum.Clients {
			status := fmt.Sprintf("%d rows", c.Delivered)
			if c.Err != nil {
				status = fmt.Sprintf("FAILED: %v", c.Err)
			} else if c.Relaxed {
				status += " (relaxed)"
			}
			fmt.Printf("  client %-20s %s\n", c.Name, status)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cycleCmd)
}
