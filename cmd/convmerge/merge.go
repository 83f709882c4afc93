package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/steveyegge/convmerge/internal/merge"
	"github.com/steveyegge/convmerge/internal/metrics"
	"github.com/steveyegge/convmerge/internal/types"
)

// Exit codes of the merge command
const (
	exitOK            = 0
	exitSetup         = 1
	exitSessionFailed = 2
)

// lastRunKey is the config key holding the ID of the last executed run
const lastRunKey = "last_merge_run"

var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Merge duplicate conversations",
	Long: `Find conversations of the same contact within each session, keep the best one
and move the messages of the others into it. The duplicates are soft-deleted.

The kept conversation is the one on the direct-chat channel, then the one with
the most messages, then the most recently active one.

Contacts are matched by phone number. Set merge.default_country_code (or
CONVMERGE_MERGE_COUNTRY_CODE) when the store holds national numbers without a
country code; otherwise they are not matched with their international form.

Exit status is 0 on completion, 1 when no session matches or setup fails, and 2
when one or more sessions failed. Re-running after a failure is safe.`,
	Run: func(cmd *cobra.Command, args []string) {
		sessionID, _ := cmd.Flags().GetString("session")
		simulate, _ := cmd.Flags().GetBool("simulate")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		reportPath, _ := cmd.Flags().GetString("report")
		metricsFile, _ := cmd.Flags().GetString("metrics-file")
		if metricsFile == "" {
			metricsFile = cfg.MetricsFile
		}

		opts := mergeOptions{
			SessionID:   sessionID,
			Simulate:    simulate || dryRun,
			ReportPath:  reportPath,
			MetricsFile: metricsFile,
		}
		if cmd.Flags().Changed("workers") {
			opts.Workers, _ = cmd.Flags().GetInt("workers")
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		code, err := runMerge(ctx, os.Stdout, opts)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		if code != exitOK {
			store.Close()
			os.Exit(code)
		}
	},
}

func init() {
	mergeCmd.Flags().String("session", "", "Only process this session ID")
	mergeCmd.Flags().Bool("simulate", false, "Show what would be merged without changing anything")
	mergeCmd.Flags().Bool("dry-run", false, "Alias for --simulate")
	mergeCmd.Flags().String("report", "", "Write a JSON report of the run to this file")
	mergeCmd.Flags().Int("workers", 0, "Sessions processed concurrently (overrides config)")
	mergeCmd.Flags().String("metrics-file", "", "Write Prometheus metrics of the run to this .prom file (overrides config)")
	rootCmd.AddCommand(mergeCmd)
}

// mergeOptions are the per-invocation settings of the merge command
type mergeOptions struct {
	SessionID   string
	Simulate    bool
	ReportPath  string
	MetricsFile string
	// Workers overrides the configured worker count when positive
	Workers int
}

// runMerge runs the engine against the global store and prints progress to w.
// It returns the process exit code and, for exitSetup, the cause.
func runMerge(ctx context.Context, w io.Writer, opts mergeOptions) (int, error) {
	mcfg := cfg.Merge
	if opts.Workers > 0 {
		mcfg.Workers = opts.Workers
	}

	engine, err := merge.NewEngine(store, mcfg, logger)
	if err != nil {
		return exitSetup, err
	}

	if opts.Simulate {
		fmt.Fprintf(w, "%s\n\n", color.YellowString("SIMULATION MODE - No conversations will be changed"))
	}

	report, err := engine.Run(ctx, merge.Options{
		SessionID: opts.SessionID,
		Simulate:  opts.Simulate,
		Progress:  func(s *merge.SessionReport) { printSession(w, s) },
	})
	if err != nil {
		if report == nil || errors.Is(err, merge.ErrSessionNotFound) || errors.Is(err, types.ErrLocked) {
			return exitSetup, err
		}
		// Cancelled mid-run: keep the record of what was done before stopping
		finishRun(w, opts, report)
		return exitSessionFailed, fmt.Errorf("merge interrupted: %w", err)
	}

	finishRun(w, opts, report)

	if !report.Simulated {
		if err := store.SetConfig(ctx, lastRunKey, report.RunID); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to record last run: %v\n", err)
		}
	}

	if report.HasFailures() {
		return exitSessionFailed, nil
	}
	return exitOK, nil
}

// printSession prints the progress block of one finished session
func printSession(w io.Writer, s *merge.SessionReport) {
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	fmt.Fprintf(w, "Processing session: %s (%s)\n", s.Phone, s.SessionID)

	if len(s.Groups) == 0 && !s.Failed() {
		fmt.Fprintf(w, "  %s\n\n", gray("no duplicates found"))
		return
	}

	for _, g := range s.Groups {
		plan := g.Plan
		fmt.Fprintf(w, "  %s: %d conversations, %d duplicates\n",
			plan.ContactLabel, len(plan.Duplicates)+1, len(plan.Duplicates))
		fmt.Fprintf(w, "    %s  %s %s (%s messages)\n",
			green("keep "), plan.SurvivorID, plan.SurvivorJID, formatNumber(plan.SurvivorMessages))
		for _, d := range plan.Duplicates {
			fmt.Fprintf(w, "    %s  %s %s (%s messages)\n",
				yellow("merge"), d.ConversationID, d.RemoteJID, formatNumber(d.MessageCount))
		}

		switch g.Phase {
		case merge.PhaseExecuted:
			fmt.Fprintf(w, "  %s Merged %d conversations, moved %s messages\n",
				green("✓"), g.Merged, formatNumber(g.MessagesMoved))
		case merge.PhaseSimulated:
			fmt.Fprintf(w, "  %s Would merge %d conversations, moving %s messages\n",
				yellow("○"), g.Merged, formatNumber(g.MessagesMoved))
		case merge.PhaseSkipped:
			fmt.Fprintf(w, "  %s Skipped: conversations already claimed by another worker\n", yellow("⚠"))
		case merge.PhaseFailed:
			fmt.Fprintf(w, "  %s Failed after merging %d conversations: %s\n", red("✗"), g.Merged, g.Error)
		}
	}

	if s.Failed() {
		fmt.Fprintf(w, "  %s\n", red(fmt.Sprintf("✗ Session failed: %s", s.Error)))
	}
	fmt.Fprintln(w)
}

// printSummary prints the final totals of a run
func printSummary(w io.Writer, r *merge.Report) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	mergedLabel := "Conversations merged:"
	movedLabel := "Messages moved:"
	if r.Simulated {
		mergedLabel = "Conversations to merge:"
		movedLabel = "Messages to move:"
	}

	fmt.Fprintf(w, "%s\n", cyan("=== Summary ==="))
	fmt.Fprintf(w, "  %-26s %s\n", "Sessions processed:", formatNumber(len(r.Sessions)))
	fmt.Fprintf(w, "  %-26s %s\n", "Duplicate groups found:", formatNumber(r.TotalDuplicateGroups))
	fmt.Fprintf(w, "  %-26s %s\n", mergedLabel, formatNumber(r.TotalConversationsMerged))
	fmt.Fprintf(w, "  %-26s %s\n", movedLabel, formatNumber(r.TotalMessagesMoved))
	if r.HasFailures() {
		fmt.Fprintf(w, "  %-26s %s\n", "Failed sessions:", red(formatNumber(r.FailedSessions)))
		for _, s := range r.Sessions {
			if s.Failed() {
				fmt.Fprintf(w, "    %s %s: %s\n", red("✗"), s.SessionID, s.Error)
			}
		}
	}
	fmt.Fprintf(w, "  %-26s %s\n", "Duration:", r.Duration().Round(time.Millisecond))
}

// finishRun prints the summary and writes the report and metrics files
func finishRun(w io.Writer, opts mergeOptions, report *merge.Report) {
	printSummary(w, report)

	if opts.ReportPath != "" {
		if err := writeReport(opts.ReportPath, report); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		} else {
			fmt.Fprintf(w, "\nReport written to %s\n", opts.ReportPath)
		}
	}
	writeMetrics(opts.MetricsFile, report)
}

// writeMetrics exports the run counters when path is set. Failures only warn.
func writeMetrics(path string, r *merge.Report) {
	if path == "" {
		return
	}
	rec := metrics.NewRecorder()
	rec.Observe(r)
	if err := rec.WriteTextfile(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
}

// writeReport stores the JSON report at path
func writeReport(path string, r *merge.Report) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	if err := r.WriteJSON(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close report file: %w", err)
	}
	return nil
}
