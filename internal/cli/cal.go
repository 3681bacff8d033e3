package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/reduce/internal/engine"
	"github.com/roach88/reduce/internal/ir"
	"github.com/roach88/reduce/internal/store"
)

// NewCalCommand creates the cal command and its add, rm and list
// subcommands.
func NewCalCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cal",
		Short: "Manage the calibration index",
		Long: `Manage the calibration index: which calibration file serves which
dataset for each calibration type. Datasets are identified by content, so
a renamed file keeps its calibrations.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:           "add <dataset> <caltype> <calibration-file>",
		Short:         "Record a calibration for a dataset",
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCalAdd(rootOpts, cmd, args[0], args[1], args[2])
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:           "rm <dataset> <caltype>",
		Short:         "Remove a calibration from the index",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCalRemove(rootOpts, cmd, args[0], args[1])
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:           "list",
		Short:         "List the calibration index",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCalList(rootOpts, cmd)
		},
	})

	return cmd
}

// calKey identifies the dataset at path by content.
func calKey(path, caltype string) (ir.CalKey, error) {
	id, err := engine.FileIdentifier{}.Identify(ir.NewDataset(path))
	if err != nil {
		return ir.CalKey{}, fmt.Errorf("identify %s: %w", path, err)
	}
	return ir.CalKey{DatasetID: id, CalType: caltype}, nil
}

func openCalStore(opts *RootOptions) (*env, error) {
	e, err := loadEnv(opts)
	if err != nil {
		return nil, err
	}
	if err := e.openStores(false); err != nil {
		return nil, err
	}
	return e, nil
}

func runCalAdd(opts *RootOptions, cmd *cobra.Command, dataset, caltype, calfile string) error {
	formatter := newFormatter(opts, cmd)

	key, err := calKey(dataset, caltype)
	if err != nil {
		return formatter.Fail(ExitCommandError, "cal add", err)
	}
	calAbs, err := filepath.Abs(calfile)
	if err != nil {
		return formatter.Fail(ExitCommandError, "cal add", err)
	}

	e, err := openCalStore(opts)
	if err != nil {
		return err
	}
	defer e.Close()

	rec := ir.CalibrationRecord{
		Filename:  calAbs,
		CalType:   caltype,
		Timestamp: engine.SystemClock{}.Now(),
		Source:    dataset,
	}
	if err := e.cals.SaveCalibrations(commandContext(cmd), map[ir.CalKey]ir.CalibrationRecord{key: rec}); err != nil {
		return formatter.Fail(ExitFailure, "cal add", err)
	}

	row := store.CalibrationRow{CalKey: key, CalibrationRecord: rec}
	if formatter.Format == "json" {
		return formatter.Success(row)
	}
	fmt.Fprintf(formatter.Writer, "✓ %s calibration for %s: %s\n", caltype, dataset, calAbs)
	return nil
}

func runCalRemove(opts *RootOptions, cmd *cobra.Command, dataset, caltype string) error {
	formatter := newFormatter(opts, cmd)

	key, err := calKey(dataset, caltype)
	if err != nil {
		return formatter.Fail(ExitCommandError, "cal rm", err)
	}

	e, err := openCalStore(opts)
	if err != nil {
		return err
	}
	defer e.Close()

	removed, err := e.cals.DeleteCalibration(commandContext(cmd), key)
	if err != nil {
		return formatter.Fail(ExitFailure, "cal rm", err)
	}
	if !removed {
		msg := fmt.Sprintf("no %s calibration recorded for %s", caltype, dataset)
		_ = formatter.Error(ErrCodeNotFound, msg, nil)
		return NewExitError(ExitFailure, msg)
	}

	if formatter.Format == "json" {
		return formatter.Success(key)
	}
	fmt.Fprintf(formatter.Writer, "✓ removed %s calibration for %s\n", caltype, dataset)
	return nil
}

func runCalList(opts *RootOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	e, err := openCalStore(opts)
	if err != nil {
		return err
	}
	defer e.Close()

	rows, err := e.cals.ListCalibrations(commandContext(cmd))
	if err != nil {
		return formatter.Fail(ExitFailure, "cal list", err)
	}

	if formatter.Format == "json" {
		return formatter.Success(rows)
	}
	if len(rows) == 0 {
		fmt.Fprintln(formatter.Writer, "Calibration index is empty")
		return nil
	}
	for _, r := range rows {
		fmt.Fprintf(formatter.Writer, "%-8s %s  %s (for %s)\n",
			r.CalKey.CalType, shortDatasetID(r.DatasetID), r.Filename, filepath.Base(r.Source))
	}
	return nil
}

func shortDatasetID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
