package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/permitflow/permitflow/internal/index"
	"github.com/permitflow/permitflow/internal/match"
	"github.com/permitflow/permitflow/internal/resolve"
	"github.com/permitflow/permitflow/internal/search"
	"github.com/permitflow/permitflow/internal/types"
)

var (
	matchClientIDs []int64
	matchTopK      int
	matchResolve   bool
)

var matchCmd = &cobra.Command{
	Use:   "match",
	Short: "Preview client matches without delivering",
	Long: `Match runs the per-client pipeline and prints the result sets.

Nothing is delivered and the ledger is untouched; this is the dry run used
to tune client profiles. --resolve additionally applies slider caps and
cross-client exclusivity, showing what a cycle would actually hand out.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}

		mgr := index.NewManager(cfg.RAGIndexDir, nil, cfg.BatchSize, logger)
		if _, err := mgr.Load(cmd.Context()); err != nil {
			logger.Warn("index unavailable, ranking will fall back", "error", err)
		}
		matcher := match.New(st, search.New(st, mgr, logger), cfg.PerClientTopK, logger)

		clients, err := st.ListClients(cmd.Context(), types.ClientFilter{
			Status: types.ClientActive,
			IDs:    matchClientIDs,
		})
		if err != nil {
			return err
		}
		if len(clients) == 0 {
			return fmt.Errorf("no active clients matched the selection")
		}

		assignments, failures := matcher.MatchAll(cmd.Context(), clients, match.Options{TopK: matchTopK})
		if matchResolve {
			assignments, err = resolve.New(logger).Resolve(assignments)
			if err != nil {
				return err
			}
		}

		if jsonOutput {
			outputJSON(map[string]interface{}{
				"assignments": assignments,
				"failures":    failures,
			})
			return nil
		}
		for _, a := range assignments {
			fmt.Printf("client %d (%s): %d inclusion, %d excluded, %d semantic\n",
				a.Client.ID, a.Client.Name,
				len(a.Sets.Inclusion), len(a.Sets.Exclusion), len(a.Sets.Semantic))
		}
		for _, f := range failures {
			fmt.Printf("client %d (%s): FAILED: %v\n", f.ClientID, f.Name, f.Err)
		}
		return nil
	},
}

func init() {
	matchCmd.Flags().Int64SliceVar(&matchClientIDs, "client", nil, "restrict to client ids (repeatable)")
	matchCmd.Flags().IntVar(&matchTopK, "top", 0, "per-client semantic cap (default from config)")
	matchCmd.Flags().BoolVar(&matchResolve, "resolve", false, "apply slider caps and cross-client exclusivity")
	rootCmd.AddCommand(matchCmd)
}
