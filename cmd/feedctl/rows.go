package main

import (
	"errors"
	"fmt"

	"github.com/matheus3301/complaintfeed/internal/feed"
	"github.com/spf13/cobra"
)

var (
	updateStatus  string
	updateRemarks string
)

var expandCmd = &cobra.Command{
	Use:   "expand <id>",
	Short: "Toggle a row between collapsed and expanded",
	Args:  exactArgs(1, "expand <id>"),
	RunE: func(cmd *cobra.Command, args []string) error {
		expanded, height, err := newClient().ToggleExpand(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return output(map[string]any{"id": args[0], "expanded": expanded, "height": height}, func() {
			state := "collapsed"
			if expanded {
				state = "expanded"
			}
			fmt.Printf("%s %s, height %d\n", args[0], state, height)
		})
	},
}

var updateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Change a complaint's status and/or admin remarks",
	Example: `  feedctl update C123 --status resolved
  feedctl update C123 --remarks "plumber assigned"`,
	Args: exactArgs(1, "update <id> [--status s] [--remarks r]"),
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			st      *feed.Status
			remarks *string
		)
		if cmd.Flags().Changed("status") {
			s := feed.Status(updateStatus)
			st = &s
		}
		if cmd.Flags().Changed("remarks") {
			remarks = &updateRemarks
		}
		if st == nil && remarks == nil {
			return errors.New("nothing to update: pass --status or --remarks")
		}
		ids, err := newClient().UpdateRow(cmd.Context(), args[0], st, remarks)
		if err != nil {
			return err
		}
		return output(map[string]any{"id": args[0], "mutationIds": ids}, func() {
			fmt.Printf("%s: %d change(s) queued\n", args[0], len(ids))
		})
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a complaint",
	Args:  exactArgs(1, "delete <id>"),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient().DeleteRow(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("%s deleted\n", args[0])
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <id>",
	Short: "Fetch one complaint by id and merge it into the feed",
	Args:  exactArgs(1, "search <id>"),
	RunE: func(cmd *cobra.Command, args []string) error {
		row, err := newClient().Search(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return output(row, func() {
			fmt.Printf("%s  %s  %s  submitted %s\n", row.ID, row.Status, row.ReadStatus, row.SubmittedAt.Format("2006-01-02 15:04"))
			for k, v := range row.Fields {
				fmt.Printf("  %s: %s\n", k, v)
			}
			if row.AdminRemarks != "" {
				fmt.Printf("  remarks: %s\n", row.AdminRemarks)
			}
		})
	},
}

func init() {
	updateCmd.Flags().StringVar(&updateStatus, "status", "", "pending, in-progress or resolved")
	updateCmd.Flags().StringVar(&updateRemarks, "remarks", "", "admin remarks")

	rootCmd.AddCommand(expandCmd, updateCmd, deleteCmd, searchCmd)
}
