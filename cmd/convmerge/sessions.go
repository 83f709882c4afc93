package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List sessions with conversation counts",
	Long:  `List every messaging session with its live conversation and message counts.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		stats, err := store.GetSessionStats(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to get session stats: %v\n", err)
			os.Exit(1)
		}

		if len(stats) == 0 {
			fmt.Println("No sessions found")
			return
		}

		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		fmt.Printf("\n%s\n\n", cyan(fmt.Sprintf("=== Sessions (%d) ===", len(stats))))
		fmt.Printf("  %-24s %-16s %14s %8s %10s\n", "ID", "PHONE", "CONVERSATIONS", "GROUPS", "MESSAGES")
		for _, st := range stats {
			phone := st.Session.Phone
			if phone == "" {
				phone = gray("-")
			}
			fmt.Printf("  %-24s %-16s %14s %8s %10s\n",
				truncate(st.Session.ID, 24),
				phone,
				formatNumber(st.Conversations),
				formatNumber(st.GroupConversations),
				formatNumber(st.Messages))
		}
		fmt.Println()
	},
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
}
