package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joescharf/pyconsole/internal/models"
	"github.com/joescharf/pyconsole/internal/output"
)

var historyKeep int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return historyListRun(cmd, limit)
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a recorded run in full",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return historyShowRun(cmd, args[0])
	},
}

var historyPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete old runs, keeping the most recent",
	RunE: func(cmd *cobra.Command, args []string) error {
		return historyPruneRun(cmd)
	},
}

func init() {
	historyCmd.Flags().IntP("limit", "l", 20, "Maximum number of runs to list")
	historyPruneCmd.Flags().IntVar(&historyKeep, "keep", 100, "Number of most recent runs to keep")

	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyPruneCmd)
	rootCmd.AddCommand(historyCmd)
}

func historyListRun(cmd *cobra.Command, limit int) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	runs, err := s.ListRuns(cmd.Context(), limit)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	if len(runs) == 0 {
		ui.Info("No runs recorded yet")
		return nil
	}

	table := ui.Table([]string{"ID", "When", "Status", "Error", "Duration"})
	for _, r := range runs {
		errCol := r.ErrorType
		if errCol == "" && r.Status == models.RunStatusFailed {
			errCol = "(service failure)"
		}
		table.Append([]string{
			r.ID,
			r.CreatedAt.Format("2006-01-02 15:04:05"),
			output.RunStatusColor(string(r.Status)),
			errCol,
			output.DurationColor(r.DurationMs),
		})
	}
	return table.Render()
}

func historyShowRun(cmd *cobra.Command, id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	run, err := s.GetRun(cmd.Context(), id)
	if err != nil {
		return err
	}

	ui.Info("Run %s  %s  %s", run.ID,
		output.RunStatusColor(string(run.Status)), run.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintln(ui.Out)
	fmt.Fprintln(ui.Out, output.Dim("--- code ---"))
	fmt.Fprintln(ui.Out, run.Code)
	if run.Stdout != "" {
		fmt.Fprintln(ui.Out, output.Dim("--- stdout ---"))
		fmt.Fprint(ui.Out, run.Stdout)
	}
	if run.Stderr != "" {
		fmt.Fprintln(ui.Out, output.Dim("--- stderr ---"))
		fmt.Fprint(ui.Out, output.Yellow(run.Stderr))
	}
	if run.Result != "" {
		fmt.Fprintln(ui.Out, output.Dim("--- result ---"))
		fmt.Fprintln(ui.Out, output.Cyan(run.Result))
	}
	if run.ExecutionError != "" {
		fmt.Fprintln(ui.Out, output.Dim("--- error ---"))
		fmt.Fprint(ui.Out, output.Red(run.ExecutionError))
	}
	return nil
}

func historyPruneRun(cmd *cobra.Command) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	deleted, err := s.PruneRuns(cmd.Context(), historyKeep)
	if err != nil {
		return fmt.Errorf("prune runs: %w", err)
	}
	ui.Success("Deleted %d runs, kept the %d most recent", deleted, historyKeep)
	return nil
}
