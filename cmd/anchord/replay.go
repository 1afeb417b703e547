package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/anchord/internal/model"
	"github.com/alfredjeanlab/anchord/internal/receipt"
)

var replayCmd = &cobra.Command{
	Use:     "replay <log-dir>",
	Short:   "Verify and replay a receipt log offline",
	Long:    "Replay the segment log at <log-dir>, verifying every record checksum, and print receipt counts per state. Exits with code 3 if the log is corrupted.",
	GroupID: "system",
	Args:    cobra.ExactArgs(1),
	// Override PersistentPreRunE so we don't create an API client.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

		store, err := receipt.Open(args[0], logger)
		if err != nil {
			return err
		}
		defer store.Close()

		stats := store.Stats()
		if jsonOutput {
			data, err := json.MarshalIndent(stats, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		}

		fmt.Printf("Replayed %d receipts from %s\n", store.Len(), args[0])
		for _, st := range []model.State{
			model.StatePending, model.StateSubmitting, model.StateSubmitted,
			model.StateConfirmed, model.StateFailed, model.StateAbandoned,
		} {
			if n := stats[st]; n > 0 {
				fmt.Printf("  %-12s %d\n", st, n)
			}
		}
		return nil
	},
}
