package main

import (
	"github.com/spf13/cobra"
)

var cancelCmd = &cobra.Command{
	Use:     "cancel <decision-id>",
	Short:   "Abandon a decision that has not reached the ledger",
	GroupID: "admin",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rec, err := api.Cancel(cmd.Context(), args[0])
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
