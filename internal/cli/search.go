package cli

import (
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search records by substring",
		Long:  "Case-insensitive substring search over record content, category, and origin.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runSearch,
	}

	cmd.Flags().IntP("limit", "l", 20, "Max results, newest kept (0 for all)")

	RootCmd.AddCommand(cmd)
}

func runSearch(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("limit")

	e := openEngine(cmd)
	records := e.Records().Search(strings.Join(args, " "))
	closeEngine(cmd, e)

	printRecords(tail(records, limit))
}
