package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/memtier/internal/engine"
)

func init() {
	cmd := &cobra.Command{
		Use:   "put [content]",
		Short: "Store a record",
		Long:  "Store a record. Content can be a positional arg or piped via stdin.",
		Run:   runPut,
	}

	cmd.Flags().StringP("category", "c", "", "Category (required)")
	cmd.Flags().Float64P("weight", "w", 0, "Weight")
	cmd.Flags().StringP("origin", "o", "", "Origin of the record")
	cmd.Flags().StringToString("meta", nil, "Metadata as key=value pairs")

	cmd.MarkFlagRequired("category")

	RootCmd.AddCommand(cmd)
}

func runPut(cmd *cobra.Command, args []string) {
	category, _ := cmd.Flags().GetString("category")
	weight, _ := cmd.Flags().GetFloat64("weight")
	origin, _ := cmd.Flags().GetString("origin")
	meta, _ := cmd.Flags().GetStringToString("meta")

	// Get content: positional arg first, then check stdin
	var content string
	if len(args) > 0 {
		content = strings.Join(args, " ")
	} else {
		stat, _ := os.Stdin.Stat()
		if (stat.Mode() & os.ModeCharDevice) == 0 {
			b, err := io.ReadAll(os.Stdin)
			if err != nil {
				exitErr("read stdin", err)
			}
			content = string(b)
		}
	}

	if strings.TrimSpace(content) == "" {
		exitErr("put", fmt.Errorf("content is required (positional arg or stdin)"))
	}

	e := openEngine(cmd)
	r, err := e.Store(cmd.Context(), engine.StoreParams{
		Category: category,
		Content:  strings.TrimSpace(content),
		Weight:   weight,
		Origin:   origin,
		Meta:     meta,
	})
	if err != nil && r == nil {
		failEngine(cmd, e, "put", err)
	}
	if err != nil {
		// Held locally; the slower tiers can be repaired with backfill.
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}
	closeEngine(cmd, e)

	if textOutput() {
		fmt.Println(r.ID)
		return
	}
	printJSON(r)
}
