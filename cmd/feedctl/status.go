package main

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/matheus3301/complaintfeed/internal/lock"
	"github.com/matheus3301/complaintfeed/internal/profile"
	"github.com/matheus3301/complaintfeed/internal/status"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon, channel and feed status",
	RunE: func(cmd *cobra.Command, _ []string) error {
		name, err := profileName()
		if err != nil {
			return err
		}
		pid, running := lock.Holder(profile.Dir(name))
		if !running {
			return fmt.Errorf("no daemon running for profile %q", name)
		}

		c := newClient()
		states, err := c.Channels(cmd.Context())
		if err != nil {
			return err
		}
		resp, err := c.Feed(cmd.Context())
		if err != nil {
			return err
		}
		out := map[string]any{
			"profile":  name,
			"pid":      pid,
			"category": resp.Category,
			"rows":     len(resp.Rows),
			"hasMore":  resp.HasMore,
			"channels": states,
		}
		return output(out, func() {
			fmt.Printf("profile: %s  pid: %d\n", name, pid)
			fmt.Printf("category: %s  rows: %d  more: %v\n", resp.Category, len(resp.Rows), resp.HasMore)
			if resp.Error != "" {
				fmt.Printf("error: %s\n", resp.Error)
			}
			printChannels(states)
		})
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show the latest statistics of every subscribed topic",
	RunE: func(cmd *cobra.Command, _ []string) error {
		stats, err := newClient().Stats(cmd.Context())
		if err != nil {
			return err
		}
		return output(stats, func() {
			for topic, s := range stats {
				fmt.Printf("%s (%s): %s\n", topic, s.ReceivedAt.Format("15:04:05"), s.Data)
			}
		})
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Tear down the feed and clear every cached scope",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := newClient().Logout(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("logged out, cache cleared")
		return nil
	},
}

func printChannels(states map[string]status.State) {
	topics := make([]string, 0, len(states))
	for t := range states {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TOPIC\tSTATE")
	for _, t := range topics {
		fmt.Fprintf(w, "%s\t%s\n", t, states[t])
	}
	_ = w.Flush()
}

func init() {
	rootCmd.AddCommand(statusCmd, statsCmd, logoutCmd)
}
