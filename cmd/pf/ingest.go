package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/permitflow/permitflow/internal/types"
)

var ingestCity string

var ingestCmd = &cobra.Command{
	Use:   "ingest <file.json>",
	Short: "Ingest a JSON array of raw permits into the catalog",
	Long: `Ingest reads a JSON array of flat permit objects and inserts them.

Rows without a permit_number are dropped; rows whose (city, permit number)
pair already exists are skipped. Re-running an ingest is safe.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}

		data, err := os.ReadFile(args[0]) //nolint:gosec // user-supplied path
		if err != nil {
			return fmt.Errorf("read %s: %w", args[0], err)
		}
		var rows []types.RawPermit
		if err := json.Unmarshal(data, &rows); err != nil {
			return fmt.Errorf("parse %s: %w", args[0], err)
		}

		stats, err := st.Insert(cmd.Context(), ingestCity, rows)
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(stats)
			return nil
		}
		fmt.Printf("ingested %d new, %d duplicate, %d dropped\n",
			stats.Inserted, stats.Skipped, stats.Dropped)
		return nil
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestCity, "city", "", "city to tag the ingested permits with")
	_ = ingestCmd.MarkFlagRequired("city")
	rootCmd.AddCommand(ingestCmd)
}
