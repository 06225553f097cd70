package cli

import (
	"os"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export live records as JSON",
		Long:  "Export every live record as a JSON array, in insertion order.",
		Run:   runExport,
	}

	cmd.Flags().StringP("output", "o", "", "Write to a file instead of stdout")

	RootCmd.AddCommand(cmd)
}

func runExport(cmd *cobra.Command, args []string) {
	output, _ := cmd.Flags().GetString("output")

	e := openEngine(cmd)
	defer closeEngine(cmd, e)

	w := os.Stdout
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			failEngine(cmd, e, "export", err)
		}
		defer f.Close()
		w = f
	}

	if err := e.Records().Export(w); err != nil {
		failEngine(cmd, e, "export", err)
	}
}
