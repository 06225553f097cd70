package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Retrieve a record through the tiers",
		Args:  cobra.ExactArgs(1),
		Run:   runGet,
	}

	RootCmd.AddCommand(cmd)
}

func runGet(cmd *cobra.Command, args []string) {
	e := openEngine(cmd)
	res, err := e.Retrieve(cmd.Context(), args[0])
	if err != nil {
		failEngine(cmd, e, "get", err)
	}
	closeEngine(cmd, e)

	if textOutput() {
		fmt.Printf("[%s] %s %s\n", res.Source, res.Record.ID, res.Record.Category)
		fmt.Println(res.Record.Content)
		return
	}
	printJSON(res)
}
