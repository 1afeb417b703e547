package main

import (
	"github.com/spf13/cobra"
)

var showCmd = &cobra.Command{
	Use:     "show <decision-id>",
	Short:   "Show the receipt for a decision",
	GroupID: "events",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rec, err := api.GetReceipt(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			printReceiptJSON(rec)
		} else {
			printReceiptTable(rec)
		}
		return nil
	},
}
