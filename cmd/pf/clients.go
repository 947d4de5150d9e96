package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/permitflow/permitflow/internal/types"
)

var clientsAll bool

var clientsCmd = &cobra.Command{
	Use:   "clients",
	Short: "List client profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}

		filter := types.ClientFilter{Status: types.ClientActive}
		if clientsAll {
			filter.Status = ""
		}
		clients, err := st.ListClients(cmd.Context(), filter)
		if err != nil {
			return err
		}

		if jsonOutput {
			outputJSON(clients)
			return nil
		}
		if len(clients) == 0 {
			fmt.Println("no clients")
			return nil
		}
		for _, c := range clients {
			sent, err := st.SentCount(cmd.Context(), c.ID)
			if err != nil {
				return err
			}
			scope := c.City
			if c.PermitType != "" {
				scope += " / " + c.PermitType
			}
			if len(c.WorkClasses) > 0 {
				scope += " / " + strings.Join(c.WorkClasses, ",")
			}
			fmt.Printf("%4d  %-24s %-8s slider %3d%%  prio %3d  sent %5d  %s\n",
				c.ID, c.Name, c.Status, c.SliderPercentage, c.Priority, sent, scope)
		}
		return nil
	},
}

func init() {
	clientsCmd.Flags().BoolVar(&clientsAll, "all", false, "include inactive clients")
	rootCmd.AddCommand(clientsCmd)
}
