package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/matheus3301/complaintfeed/internal/api"
	"github.com/matheus3301/complaintfeed/internal/feed"
	"github.com/spf13/cobra"
)

var (
	filterFlags feed.FilterSet
	rowsLimit   int
)

var categoryCmd = &cobra.Command{
	Use:   "category <name>",
	Short: "Switch the feed to a category and load its first page",
	Args:  exactArgs(1, "category <name>"),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := newClient().SetCategory(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printFeed(resp)
	},
}

var rowsCmd = &cobra.Command{
	Use:   "rows",
	Short: "List the rows currently in the feed",
	RunE: func(cmd *cobra.Command, _ []string) error {
		resp, err := newClient().Feed(cmd.Context())
		if err != nil {
			return err
		}
		return printFeed(resp)
	},
}

var filterCmd = &cobra.Command{
	Use:   "filter",
	Short: "Apply a filter set; pagination restarts when it differs",
	Example: `  feedctl filter --start 2024-01-01 --end 2024-01-31 --status resolved
  feedctl filter --scholar 21U101 --scholar 21U102`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		resp, err := newClient().ApplyFilter(cmd.Context(), filterFlags)
		if err != nil {
			return err
		}
		return printFeed(resp)
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop every filter except the date range",
	RunE: func(cmd *cobra.Command, _ []string) error {
		resp, err := newClient().ClearFilters(cmd.Context())
		if err != nil {
			return err
		}
		return printFeed(resp)
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Reload the current scope from the first page",
	RunE: func(cmd *cobra.Command, _ []string) error {
		resp, err := newClient().Refresh(cmd.Context())
		if err != nil {
			return err
		}
		return printFeed(resp)
	},
}

var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Retry the last failed fetch and reconnect failed channels",
	RunE: func(cmd *cobra.Command, _ []string) error {
		resp, err := newClient().Retry(cmd.Context())
		if err != nil {
			return err
		}
		return printFeed(resp)
	},
}

func init() {
	f := filterCmd.Flags()
	f.StringVar(&filterFlags.DateRange.Start, "start", "", "first submission date (YYYY-MM-DD)")
	f.StringVar(&filterFlags.DateRange.End, "end", "", "last submission date (YYYY-MM-DD)")
	f.StringVar(&filterFlags.ComplaintType, "type", "", "complaint type")
	f.StringVar(&filterFlags.Status, "status", "", "pending, in-progress or resolved")
	f.StringVar(&filterFlags.ReadStatus, "read", "", "viewed or not-viewed")
	f.StringVar(&filterFlags.HostelNumber, "hostel", "", "hostel number")
	f.StringSliceVar(&filterFlags.ScholarNumbers, "scholar", nil, "scholar number (repeatable)")
	f.StringSliceVar(&filterFlags.ComplaintIDs, "id", nil, "complaint id (repeatable)")

	rowsCmd.Flags().IntVar(&rowsLimit, "limit", 0, "show at most this many rows")

	rootCmd.AddCommand(categoryCmd, rowsCmd, filterCmd, clearCmd, refreshCmd, retryCmd)
}

func printFeed(resp *api.FeedResponse) error {
	return output(resp, func() {
		state := "idle"
		if resp.Loading {
			state = "loading"
		}
		more := "end of feed"
		if resp.HasMore {
			more = "more available"
		}
		fmt.Printf("category: %s  rows: %d  %s  (%s)\n", resp.Category, len(resp.Rows), state, more)
		if resp.Error != "" {
			fmt.Printf("error: %s\n", resp.Error)
		}
		if resp.Notice != "" {
			fmt.Printf("notice: %s\n", resp.Notice)
		}

		rows := resp.Rows
		if rowsLimit > 0 && len(rows) > rowsLimit {
			rows = rows[:rowsLimit]
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tREAD\tSUBMITTED\tHEIGHT\tREMARKS")
		for _, r := range rows {
			mark := ""
			if r.Expanded {
				mark = " (expanded)"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d%s\t%s\n",
				r.ID, r.Status, r.ReadStatus, r.SubmittedAt.Format("2006-01-02 15:04"),
				r.Height, mark, truncate(r.AdminRemarks, 40))
		}
		_ = w.Flush()
	})
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
