package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/memtier/internal/tier"
)

func init() {
	flush := &cobra.Command{
		Use:   "flush",
		Short: "Drain queued and spilled records to the tiers and write the log",
		Run:   runFlush,
	}

	backfill := &cobra.Command{
		Use:   "backfill <tier>",
		Short: "Write every live record directly to one tier",
		Long:  "Write every live record directly to one tier, bypassing the push queue. Tier is fast, local, permanent, or 1-3.",
		Args:  cobra.ExactArgs(1),
		Run:   runBackfill,
	}

	RootCmd.AddCommand(flush, backfill)
}

func runFlush(cmd *cobra.Command, args []string) {
	e := openEngine(cmd)
	if err := e.Flush(cmd.Context()); err != nil {
		failEngine(cmd, e, "flush", err)
	}
	st := e.Status(cmd.Context())
	closeEngine(cmd, e)

	if textOutput() {
		fmt.Printf("flushed %d records\n", st.LocalRecords)
		return
	}
	printJSON(map[string]any{
		"flushed":           true,
		"records":           st.LocalRecords,
		"total_ever_stored": st.TotalEverStored,
	})
}

func runBackfill(cmd *cobra.Command, args []string) {
	t, err := tier.Parse(strings.TrimSpace(args[0]))
	if err != nil {
		exitErr("backfill", err)
	}

	e := openEngine(cmd)
	n, err := e.Backfill(cmd.Context(), t)
	if err != nil && n == 0 {
		failEngine(cmd, e, "backfill", err)
	}
	if err != nil {
		fmt.Printf("warning: %v\n", err)
	}
	closeEngine(cmd, e)

	if textOutput() {
		fmt.Printf("backfilled %d records to %s\n", n, t)
		return
	}
	printJSON(map[string]any{"tier": t.String(), "written": n})
}
