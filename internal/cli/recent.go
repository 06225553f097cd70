package cli

import "github.com/spf13/cobra"

func init() {
	cmd := &cobra.Command{
		Use:   "recent",
		Short: "Show the most recently stored records",
		Run:   runRecent,
	}

	cmd.Flags().IntP("limit", "l", 10, "Number of records")

	RootCmd.AddCommand(cmd)
}

func runRecent(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("limit")

	e := openEngine(cmd)
	records := e.Records().GetRecent(limit)
	closeEngine(cmd, e)

	printRecords(records)
}
