package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/steveyegge/convmerge/internal/events"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the merge audit trail",
	Long: `Show recorded merge events, newest first. Every merged duplicate is recorded
with its survivor and the number of messages moved, and every executed run
records a summary event.`,
	Run: func(cmd *cobra.Command, args []string) {
		sessionID, _ := cmd.Flags().GetString("session")
		runID, _ := cmd.Flags().GetString("run")
		limit, _ := cmd.Flags().GetInt("limit")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		evts, err := store.ListMergeEvents(ctx, events.MergeEventFilter{
			SessionID: sessionID,
			RunID:     runID,
			Limit:     limit,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to list merge events: %v\n", err)
			os.Exit(1)
		}

		if len(evts) == 0 {
			fmt.Println("No merge events recorded")
			return
		}
		printHistory(os.Stdout, evts)
	},
}

func init() {
	historyCmd.Flags().String("session", "", "Only show events of this session")
	historyCmd.Flags().String("run", "", "Only show events of this run")
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of events to show (0 = all)")
	rootCmd.AddCommand(historyCmd)
}

// printHistory writes one line per event
func printHistory(w io.Writer, evts []*events.MergeEvent) {
	green := color.New(color.FgGreen).SprintFunc()
	cyan := color.New(color.FgCyan).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	for _, e := range evts {
		ts := gray(e.Timestamp.Local().Format("2006-01-02 15:04:05"))
		switch e.Type {
		case events.EventTypeConversationMerged:
			fmt.Fprintf(w, "%s %s %s: %s -> %s (%s messages)\n",
				ts, green("merged"), e.SessionID, e.DuplicateID, e.SurvivorID, formatNumber(e.MessagesMoved))
		case events.EventTypeMergeRunCompleted:
			fmt.Fprintf(w, "%s %s %s: %s\n", ts, cyan("run"), truncate(e.RunID, 8), e.Message)
		default:
			fmt.Fprintf(w, "%s %s %s\n", ts, e.Type, e.Message)
		}
	}
}
