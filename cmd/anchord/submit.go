package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/anchord/internal/model"
)

var (
	submitEventID string
	submitPayload string
)

var submitCmd = &cobra.Command{
	Use:     "submit <pipeline>",
	Short:   "Submit an event to a pipeline",
	Long:    "Submit an event to a pipeline. The payload is read from --payload, or from stdin when --payload is \"-\" or omitted.",
	GroupID: "events",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw := []byte(submitPayload)
		if submitPayload == "" || submitPayload == "-" {
			data, err := io.ReadAll(os.Stdin)
			if err != nil {
				return fmt.Errorf("reading payload from stdin: %w", err)
			}
			raw = data
		}

		var payload map[string]any
		if err := json.Unmarshal(raw, &payload); err != nil {
			return fmt.Errorf("payload must be a JSON object: %w", err)
		}

		rec, err := api.SubmitEvent(cmd.Context(), &model.Event{
			EventID:  submitEventID,
			Pipeline: args[0],
			Payload:  payload,
		})
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

func init() {
	submitCmd.Flags().StringVar(&submitEventID, "event-id", "", "caller-supplied event id (defaults to a generated id)")
	submitCmd.Flags().StringVarP(&submitPayload, "payload", "p", "", "JSON payload (\"-\" or empty reads stdin)")
}
