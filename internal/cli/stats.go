package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/memtier/internal/orchestrator"
	"github.com/rcliao/memtier/internal/store"
)

func init() {
	status := &cobra.Command{
		Use:   "status",
		Short: "Show tier, queue, and store status",
		Run:   runStatus,
	}

	categories := &cobra.Command{
		Use:   "categories",
		Short: "Show record counts per category",
		Run:   runCategories,
	}

	RootCmd.AddCommand(status, categories)
}

type statusOutput struct {
	Orchestrator orchestrator.Status `json:"orchestrator"`
	Store        store.Stats         `json:"store"`
	LedgerSize   int64               `json:"ledger_entries"`
}

func runStatus(cmd *cobra.Command, args []string) {
	e := openEngine(cmd)
	out := statusOutput{
		Orchestrator: e.Status(cmd.Context()),
		Store:        e.Records().Stats(),
		LedgerSize:   e.LedgerSize(),
	}
	closeEngine(cmd, e)

	if textOutput() {
		fmt.Print(out.Orchestrator.String())
		fmt.Printf("\nlog: %s (%d bytes, %d skipped on load)\n", out.Store.Path, out.Store.LogSizeBytes, out.Store.Skipped)
		return
	}
	printJSON(out)
}

func runCategories(cmd *cobra.Command, args []string) {
	e := openEngine(cmd)
	cats := e.Records().Stats().Categories
	closeEngine(cmd, e)

	if textOutput() {
		for _, c := range cats {
			fmt.Printf("%6d  %s\n", c.Count, c.Category)
		}
		return
	}
	if cats == nil {
		cats = []store.CategoryStats{}
	}
	printJSON(cats)
}
