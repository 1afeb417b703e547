package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/anchord/internal/client"
	"github.com/alfredjeanlab/anchord/internal/ledger"
	"github.com/alfredjeanlab/anchord/internal/receipt"
	"github.com/alfredjeanlab/anchord/internal/ui"
)

// errConfig wraps configuration failures so main can map them to exit code 2.
var errConfig = errors.New("configuration error")

var (
	serverAddr string
	authToken  string
	jsonOutput bool

	api *client.Client
)

func defaultServer() string {
	if s := os.Getenv("ANCHORD_SERVER"); s != "" {
		return s
	}
	return "http://localhost:8080"
}

var rootCmd = &cobra.Command{
	Use:   "anchord",
	Short: "Anchor pipeline decisions on a Stellar-compatible ledger",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if !ui.ShouldUseColor() {
			ui.ForceNoColor()
		}
		api = client.New(serverAddr, authToken)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", defaultServer(), "intake API base URL")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", os.Getenv("ANCHORD_AUTH_TOKEN"), "bearer token for the intake API")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	rootCmd.AddGroup(
		&cobra.Group{ID: "events", Title: "Event Commands:"},
		&cobra.Group{ID: "admin", Title: "Admin Commands:"},
		&cobra.Group{ID: "system", Title: "System Commands:"},
	)

	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(pendingCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(replayCmd)
}

// exitCode maps a command error to the process exit code: 2 for
// configuration errors, 3 for receipt log corruption, 4 for unrecoverable
// ledger errors, 1 otherwise.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errConfig):
		return 2
	case errors.Is(err, receipt.ErrCorrupted):
		return 3
	case errors.Is(err, ledger.ErrNetworkUnavailable), errors.Is(err, ledger.ErrAccountNotFound):
		return 4
	default:
		return 1
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}
