package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var reconcileCmd = &cobra.Command{
	Use:     "reconcile <pipeline>",
	Short:   "Trigger a reconciliation sweep for a pipeline",
	GroupID: "admin",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := api.Reconcile(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			fmt.Printf("{\"requeued\": %d}\n", n)
		} else {
			fmt.Printf("%d receipts re-queued\n", n)
		}
		return nil
	},
}
