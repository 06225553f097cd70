package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/memtier/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List records",
		Run:   runList,
	}

	cmd.Flags().StringP("category", "c", "", "Filter by category")
	cmd.Flags().IntP("limit", "l", 20, "Max results, newest kept (0 for all)")
	cmd.Flags().Bool("ids-only", false, "Only output record IDs")

	RootCmd.AddCommand(cmd)
}

func runList(cmd *cobra.Command, args []string) {
	category, _ := cmd.Flags().GetString("category")
	limit, _ := cmd.Flags().GetInt("limit")
	idsOnly, _ := cmd.Flags().GetBool("ids-only")

	e := openEngine(cmd)
	var records []*model.Record
	if category != "" {
		records = e.Records().GetByCategory(category)
	} else {
		records = e.Records().All()
	}
	closeEngine(cmd, e)

	records = tail(records, limit)
	if idsOnly {
		for _, r := range records {
			fmt.Println(r.ID)
		}
		return
	}
	printRecords(records)
}

// tail keeps the last n records. n <= 0 keeps all.
func tail(records []*model.Record, n int) []*model.Record {
	if n <= 0 || len(records) <= n {
		return records
	}
	return records[len(records)-n:]
}

func printRecords(records []*model.Record) {
	if !textOutput() {
		if records == nil {
			records = []*model.Record{}
		}
		printJSON(records)
		return
	}
	for _, r := range records {
		content := strings.ReplaceAll(r.Content, "\n", " ")
		if len([]rune(content)) > 80 {
			content = string([]rune(content)[:77]) + "..."
		}
		fmt.Printf("%s  %-12s  %.2f  %s\n", r.ID, r.Category, r.Weight, content)
	}
}
