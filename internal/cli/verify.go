package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rcliao/memtier/internal/engine"
)

func init() {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check record fingerprints and the permanent ledger chain",
		Run:   runVerify,
	}

	RootCmd.AddCommand(cmd)
}

type verifyOutput struct {
	Records       int      `json:"records"`
	Mismatched    []string `json:"mismatched"`
	LedgerEntries int64    `json:"ledger_entries"`
	LedgerOK      bool     `json:"ledger_ok"`
	LedgerError   string   `json:"ledger_error,omitempty"`
}

func runVerify(cmd *cobra.Command, args []string) {
	e := openEngine(cmd)
	records := e.Records().All()
	out := verifyOutput{Records: len(records), Mismatched: []string{}, LedgerEntries: e.LedgerSize()}

	for _, r := range records {
		if !r.Verify() {
			out.Mismatched = append(out.Mismatched, r.ID)
		}
	}
	switch err := e.VerifyLedger(); {
	case err == nil:
		out.LedgerOK = true
	case errors.Is(err, engine.ErrNoLedger):
		out.LedgerOK = true
		out.LedgerError = err.Error()
	default:
		out.LedgerError = err.Error()
	}
	closeEngine(cmd, e)

	if textOutput() {
		fmt.Printf("records: %d checked, %d mismatched\n", out.Records, len(out.Mismatched))
		fmt.Printf("ledger: %d entries, ok=%t %s\n", out.LedgerEntries, out.LedgerOK, out.LedgerError)
	} else {
		printJSON(out)
	}

	if len(out.Mismatched) > 0 || !out.LedgerOK {
		os.Exit(1)
	}
}
