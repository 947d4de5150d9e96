package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/permitflow/permitflow/internal/index"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Manage the semantic index",
}

var indexBuildCmd = &cobra.Command{
	Use:   "build",
	Short: "Rebuild the semantic index from the whole catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		mgr := index.NewManager(cfg.RAGIndexDir, nil, cfg.BatchSize, logger)
		stats, err := mgr.Build(cmd.Context(), st)
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(stats)
			return nil
		}
		fmt.Printf("indexed %d permits (dim %d) in %s\n",
			stats.Count, stats.Dim, stats.Duration.Round(time.Millisecond))
		return nil
	},
}

var indexStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show index coverage against the catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		mgr := index.NewManager(cfg.RAGIndexDir, nil, cfg.BatchSize, logger)
		if _, err := mgr.Load(cmd.Context()); err != nil {
			return err
		}
		status := mgr.Status()
		total, err := st.CountPermits(cmd.Context())
		if err != nil {
			return err
		}

		if jsonOutput {
			outputJSON(map[string]interface{}{
				"loaded":  status.Loaded,
				"vectors": status.Vectors,
				"dim":     status.Dim,
				"permits": total,
			})
			return nil
		}
		if !status.Loaded {
			fmt.Printf("index: absent (%d permits unindexed)\n", total)
			return nil
		}
		fmt.Printf("index: %d vectors (dim %d), catalog %d permits\n",
			status.Vectors, status.Dim, total)
		if int64(status.Vectors) < total {
			fmt.Printf("  %d permits not yet indexed; run 'pf index build' or a cycle\n",
				total-int64(status.Vectors))
		}
		return nil
	},
}

func init() {
	indexCmd.AddCommand(indexBuildCmd)
	indexCmd.AddCommand(indexStatusCmd)
	rootCmd.AddCommand(indexCmd)
}
