package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/surgeload/internal/history"
	"github.com/wesleyorama2/surgeload/internal/report"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List recorded runs, or print one as JSON",
		Long: `Runs are recorded when surgeload run is given --history-db.

List the last runs:
  surgeload history

Print one run as JSON:
  surgeload history 3f2c9a1e-...`,
		Args: cobra.MaximumNArgs(1),
		RunE: runHistory,
	}

	cmd.Flags().String("history-db", "", "History database (default ~/.surgeload/history.db)")
	cmd.Flags().IntP("limit", "n", 20, "Number of runs to list (0 for all)")
	cmd.Flags().Bool("no-color", false, "Disable colored output")
	cmd.Flags().String("delete", "", "Delete the run with this ID")

	return cmd
}

func historyPath(cmd *cobra.Command) (string, error) {
	path, _ := cmd.Flags().GetString("history-db")
	if path != "" {
		return path, nil
	}
	return history.DefaultPath()
}

func runHistory(cmd *cobra.Command, args []string) error {
	path, err := historyPath(cmd)
	if err != nil {
		return &ExitError{Code: ExitConfig, Err: err}
	}
	store, err := history.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()

	out := cmd.OutOrStdout()

	if id, _ := cmd.Flags().GetString("delete"); id != "" {
		if err := store.Delete(id); err != nil {
			return fmt.Errorf("failed to delete %s: %w", id, err)
		}
		fmt.Fprintf(out, "Deleted %s\n", id)
		return nil
	}

	if len(args) == 1 {
		doc, err := store.Get(args[0])
		if errors.Is(err, history.ErrNotFound) {
			return &ExitError{Code: ExitFailed, Err: fmt.Errorf("run %s not found in %s", args[0], path)}
		}
		if err != nil {
			return err
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	}

	limit, _ := cmd.Flags().GetInt("limit")
	entries, err := store.List(limit)
	if err != nil {
		return fmt.Errorf("failed to read history: %w", err)
	}
	if len(entries) == 0 {
		fmt.Fprintf(out, "No runs recorded in %s\n", path)
		return nil
	}

	noColor, _ := cmd.Flags().GetBool("no-color")
	cs := report.SchemeFor(out, noColor)

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tNAME\tSTARTED\tDURATION\tREQUESTS\tDROPPED\tERRORS\tP95\tRESULT")
	for _, e := range entries {
		result := cs.Success.Sprint("PASSED")
		if !e.Passed {
			result = cs.Error.Sprint("FAILED")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%.2f%%\t%.2fms\t%s\n",
			e.RunID, e.Name, e.StartTime.Local().Format("2006-01-02 15:04:05"),
			e.Duration.Round(100*time.Millisecond), e.Requests, e.Dropped, e.ErrorRate*100, e.P95Ms, result)
	}
	return tw.Flush()
}
