package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/yairfalse/sweep/internal/history"
	"github.com/yairfalse/sweep/internal/report"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List past cleanup runs",
	Example: `  sweep history              # Last 20 runs
  sweep history --limit 0    # All runs
  sweep history show <id>    # Full report of one run`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Print the stored report of a run",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyShowCmd)

	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Number of runs to show (0 for all)")
}

func openHistory() (*history.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Output.HistoryPath == "" {
		return nil, fmt.Errorf("history is disabled: output.history_path is empty")
	}
	return history.Open(cfg.Output.HistoryPath)
}

func runHistory(cmd *cobra.Command, _ []string) error {
	store, err := openHistory()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	runs, err := store.List(historyLimit)
	if err != nil {
		return err
	}
	printRuns(cmd.OutOrStdout(), runs)
	return nil
}

func printRuns(out io.Writer, runs []report.Summary) {
	if len(runs) == 0 {
		_, _ = fmt.Fprintln(out, "No runs recorded")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "RUN ID\tMODE\tFINISHED\tCANDIDATES\tSIMULATED\tDELETED\tFAILED\tINCOMPLETE")
	_, _ = fmt.Fprintln(w, "------\t----\t--------\t----------\t---------\t-------\t------\t----------")

	for _, run := range runs {
		t := run.Totals()
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\n",
			run.RunID,
			run.Mode,
			run.FinishedAt.Local().Format(time.DateTime),
			t.Candidates,
			t.Simulated,
			t.Deleted,
			t.Failed,
			run.FailedPhases,
		)
	}
	_ = w.Flush()
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	store, err := openHistory()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	raw, err := store.Get(args[0])
	if err != nil {
		return fmt.Errorf("run %s: %w", args[0], err)
	}

	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return fmt.Errorf("format report: %w", err)
	}
	buf.WriteByte('\n')
	_, err = buf.WriteTo(cmd.OutOrStdout())
	return err
}
