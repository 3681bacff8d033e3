package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/reduce/internal/engine"
	"github.com/roach88/reduce/internal/ir"
	"github.com/roach88/reduce/internal/store"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Limit int
}

// RunHistory is one run with its step history.
type RunHistory struct {
	Run     ir.RunRecord      `json:"run"`
	History []ir.HistoryEntry `json:"history"`
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "Show recorded runs",
		Long: `Without an argument, list the most recent runs. With a run id, print
that run's step history and running times.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return runShowRun(opts, cmd, args[0])
			}
			return runListRuns(opts, cmd)
		},
	}

	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 20, "maximum number of runs to list")

	return cmd
}

func runListRuns(opts *HistoryOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	e, err := openCalStore(opts.RootOptions)
	if err != nil {
		return err
	}
	defer e.Close()

	runs, err := e.cals.ListRuns(commandContext(cmd), opts.Limit)
	if err != nil {
		return formatter.Fail(ExitFailure, "list runs", err)
	}

	if formatter.Format == "json" {
		return formatter.Success(runs)
	}
	if len(runs) == 0 {
		fmt.Fprintln(formatter.Writer, "No runs recorded")
		return nil
	}
	for _, r := range runs {
		fmt.Fprintf(formatter.Writer, "%s  %-8s %-20s %-12s %s\n",
			r.ID, r.Status, r.Recipe, r.AstroType, r.Started.Local().Format(time.DateTime))
	}
	return nil
}

func runShowRun(opts *HistoryOptions, cmd *cobra.Command, id string) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	e, err := openCalStore(opts.RootOptions)
	if err != nil {
		return err
	}
	defer e.Close()

	ctx := commandContext(cmd)
	run, err := e.cals.ReadRun(ctx, id)
	if errors.Is(err, store.ErrRunNotFound) {
		msg := fmt.Sprintf("run %s not found", id)
		_ = formatter.Error(ErrCodeNotFound, msg, nil)
		return NewExitError(ExitFailure, msg)
	}
	if err != nil {
		return formatter.Fail(ExitFailure, "read run", err)
	}
	rows, err := e.cals.ReadHistory(ctx, id)
	if err != nil {
		return formatter.Fail(ExitFailure, "read history", err)
	}
	entries := store.Entries(rows)

	if formatter.Format == "json" {
		return formatter.Success(RunHistory{Run: run, History: entries})
	}
	fmt.Fprintf(formatter.Writer, "Run %s: %s (%s) %s\n", run.ID, run.Recipe, run.AstroType, run.Status)
	if run.Error != "" {
		fmt.Fprintf(formatter.Writer, "error: %s\n", run.Error)
	}
	fmt.Fprint(formatter.Writer, engine.FormatHistory(entries))
	return nil
}
