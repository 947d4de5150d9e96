package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/permitflow/permitflow/internal/types"
)

var statsColumn string

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show catalog statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		if statsColumn != "" {
			values, err := st.FilterValues(ctx, statsColumn)
			if err != nil {
				return err
			}
			if jsonOutput {
				outputJSON(map[string]interface{}{statsColumn: values})
				return nil
			}
			for _, v := range values {
				fmt.Println(v)
			}
			return nil
		}

		permits, err := st.CountPermits(ctx)
		if err != nil {
			return err
		}
		clients, err := st.ListClients(ctx, types.ClientFilter{})
		if err != nil {
			return err
		}
		active := 0
		for _, c := range clients {
			if c.Active() {
				active++
			}
		}

		if jsonOutput {
			outputJSON(map[string]interface{}{
				"permits":        permits,
				"clients":        len(clients),
				"clients_active": active,
			})
			return nil
		}
		fmt.Printf("permits: %d\nclients: %d (%d active)\n", permits, len(clients), active)
		return nil
	},
}

func init() {
	statsCmd.Flags().StringVar(&statsColumn, "values", "",
		"list distinct values of a filterable column (city, permit_type, ...)")
	rootCmd.AddCommand(statsCmd)
}
