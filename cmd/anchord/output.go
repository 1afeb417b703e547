package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/alfredjeanlab/anchord/internal/model"
	"github.com/alfredjeanlab/anchord/internal/ui"
)

func printReceiptJSON(rec *model.Receipt) {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling JSON: %v\n", err)
		return
	}
	fmt.Println(string(data))
}

func printReceiptTable(rec *model.Receipt) {
	fmt.Printf("Decision ID:  %s\n", ui.RenderAccent(rec.DecisionID))
	fmt.Printf("Pipeline:     %s\n", rec.Pipeline)
	fmt.Printf("State:        %s\n", ui.RenderState(rec.State))
	if rec.Fingerprint != "" {
		fmt.Printf("Fingerprint:  %s\n", rec.Fingerprint)
	}
	if rec.TxID != "" {
		fmt.Printf("Tx ID:        %s\n", rec.TxID)
	}
	if rec.AnalyzerVersion != "" {
		fmt.Printf("Analyzer:     %s\n", rec.AnalyzerVersion)
	}
	if rec.Attempts > 0 {
		fmt.Printf("Attempts:     %d\n", rec.Attempts)
	}
	if rec.LastError != "" {
		fmt.Printf("Last Error:   %s\n", rec.LastError)
	}
	fmt.Printf("Created At:   %s\n", rec.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("Updated At:   %s\n", rec.UpdatedAt.Format("2006-01-02 15:04:05"))
}

func printReceiptListJSON(recs []*model.Receipt) {
	data, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling JSON: %v\n", err)
		return
	}
	fmt.Println(string(data))
}

func printReceiptListTable(recs []*model.Receipt) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DECISION ID\tSTATE\tATTEMPTS\tTX ID\tUPDATED")
	for _, r := range recs {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			r.DecisionID,
			ui.RenderState(r.State),
			r.Attempts,
			r.TxID,
			r.UpdatedAt.Format("2006-01-02 15:04:05"),
		)
	}
	w.Flush()
	fmt.Printf("\n%d receipts\n", len(recs))
}
