package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/yairfalse/sweep/internal/wal"
)

var (
	journalSince time.Duration
	journalRunID string
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Replay the deletion journal",
	Long: `Print the journal of destructive calls written by executing runs.

Each delete is recorded before it is attempted and again when it succeeds
or fails, so a run interrupted mid-phase can be audited here.`,
	Example: `  sweep journal                     # Last 24 hours
  sweep journal --since 168h        # Last week
  sweep journal --run <run-id>      # One run only`,
	Args: cobra.NoArgs,
	RunE: runJournal,
}

func init() {
	rootCmd.AddCommand(journalCmd)

	journalCmd.Flags().DurationVar(&journalSince, "since", 24*time.Hour, "Show entries newer than this")
	journalCmd.Flags().StringVar(&journalRunID, "run", "", "Only show entries of this run")
}

func runJournal(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return printJournal(cmd.OutOrStdout(), cfg.Output.JournalDir, time.Now().Add(-journalSince), journalRunID)
}

func printJournal(out io.Writer, dir string, since time.Time, runID string) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TIME\tRUN ID\tTYPE\tRESOURCE\tERROR")

	err := wal.Replay(dir, since, func(e *wal.Entry) error {
		if runID != "" && e.RunID != runID {
			return nil
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.Local().Format(time.DateTime),
			e.RunID,
			e.Type,
			e.ResourceID,
			e.Error,
		)
		return nil
	})
	if err != nil {
		return fmt.Errorf("replay journal: %w", err)
	}
	return w.Flush()
}
