package main

import (
	"github.com/spf13/cobra"
)

var pendingLimit int

var pendingCmd = &cobra.Command{
	Use:     "pending <pipeline>",
	Short:   "List non-terminal receipts for a pipeline",
	GroupID: "events",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		recs, err := api.Pending(cmd.Context(), args[0], pendingLimit)
		if err != nil {
			return err
		}
		if jsonOutput {
			printReceiptListJSON(recs)
		} else {
			printReceiptListTable(recs)
		}
		return nil
	},
}

func init() {
	pendingCmd.Flags().IntVar(&pendingLimit, "limit", 0, "maximum receipts to return (0 = all)")
}
