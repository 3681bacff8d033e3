package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/reduce/internal/compiler"
	"github.com/roach88/reduce/internal/engine"
	"github.com/roach88/reduce/internal/ir"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Recipe        string
	RecipeFile    string
	AstroType     string
	ParamFile     string
	Params        []string
	UserParams    []string
	Interactive   bool
	Batch         bool
	ReportHistory bool
	MetricsFile   string

	// RunIDs overrides the run id generator (for testing).
	RunIDs engine.RunIDGenerator
	// Clock overrides the wall clock (for testing).
	Clock engine.WallClock
}

// DefaultRecipe is run when neither --recipe nor --recipe-file is given.
const DefaultRecipe = "reduce"

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run [files...]",
		Short: "Reduce datasets with a recipe",
		Long: `Reduce the given datasets with a recipe.

The recipe is looked up in the recipe index for the astrotype of the
first dataset, or read from --recipe-file. Calibrations found and stacks
built are kept in the indexes under the cache directory, and the step
history of every run is recorded.

Example:
  reduce run N20240101S0001.fits --recipe reduce --astrotype GMOS_IMAGE
  reduce run *.fits --recipe-file ./recipe.quicklook --param suffix=_ql
  reduce run N1.fits --param GMOS_IMAGE:biasCorrect:overscan=false --report-history`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReduce(opts, args, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Recipe, "recipe", "r", "", "recipe or primitive to run (default \"reduce\")")
	cmd.Flags().StringVar(&opts.RecipeFile, "recipe-file", "", "run the recipe in this file")
	cmd.Flags().StringVarP(&opts.AstroType, "astrotype", "t", "", "astrotype to reduce as (default: classify the first dataset)")
	cmd.Flags().StringVarP(&opts.ParamFile, "param-file", "f", "", "user parameter file")
	cmd.Flags().StringArrayVarP(&opts.Params, "param", "p", nil, "parameter setting name=value or TYPE:primitive:name=value (repeatable)")
	cmd.Flags().StringArrayVar(&opts.UserParams, "user-param", nil, "scoped user override TYPE:primitive:name=value (repeatable)")
	cmd.Flags().BoolVarP(&opts.Interactive, "interactive", "i", false, "read recipe lines from stdin after loading")
	cmd.Flags().BoolVar(&opts.Batch, "batch", false, "reduce each dataset as its own run, concurrently")
	cmd.Flags().BoolVar(&opts.ReportHistory, "report-history", false, "print the step history after the run")
	cmd.Flags().StringVar(&opts.MetricsFile, "metrics-file", "", "write step metrics in Prometheus text format to this file")
	cmd.MarkFlagsMutuallyExclusive("recipe", "recipe-file")
	cmd.MarkFlagsMutuallyExclusive("interactive", "batch")

	return cmd
}

func runReduce(opts *RunOptions, args []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	e, err := loadEnv(opts.RootOptions)
	if err != nil {
		return err
	}
	defer e.Close()

	if err := e.buildRegistry(cmd.OutOrStdout(), opts.MetricsFile != ""); err != nil {
		return err
	}

	job, files, err := buildJob(opts, e, args)
	if err != nil {
		return formatter.Fail(ExitCommandError, "invalid run arguments", err)
	}
	if len(files) == 0 {
		return formatter.Fail(ExitCommandError, "invalid run arguments", errors.New("no input files"))
	}

	if err := e.openStores(true); err != nil {
		return err
	}

	driverOpts := []engine.DriverOption{
		engine.WithCalibrationStore(e.cals),
		engine.WithHistoryStore(e.cals),
		engine.WithStackStore(e.stacks),
		engine.WithDisplayService(textDisplay{w: cmd.ErrOrStderr()}),
		engine.WithCacheManager(e.cfg),
	}
	if e.metrics != nil {
		driverOpts = append(driverOpts, engine.WithMetrics(e.metrics))
	}
	if opts.RunIDs != nil {
		driverOpts = append(driverOpts, engine.WithRunIDGenerator(opts.RunIDs))
	}
	if opts.Clock != nil {
		driverOpts = append(driverOpts, engine.WithDriverClock(opts.Clock))
	}
	d := engine.NewDriver(e.reg, driverOpts...)

	ctx, cancel := signalContext(cmd)
	defer cancel()

	var runErr error
	var contexts []*engine.ReductionContext
	switch {
	case opts.Interactive:
		var rc *engine.ReductionContext
		bind := opts.Recipe != "" || opts.RecipeFile != "" || job.Recipe != DefaultRecipe
		rc, runErr = runInteractive(ctx, d, job, bind, cmd)
		contexts = append(contexts, rc)
	case opts.Batch:
		jobs := make([]engine.Job, len(files))
		for i, f := range files {
			jobs[i] = job
			jobs[i].Inputs = []ir.Dataset{ir.NewDataset(f)}
		}
		contexts, runErr = d.RunBatch(ctx, jobs)
	default:
		var rc *engine.ReductionContext
		rc, runErr = d.Run(ctx, job)
		contexts = append(contexts, rc)
	}

	if opts.MetricsFile != "" && e.metrics != nil {
		if err := e.metrics.WriteTextfile(opts.MetricsFile); err != nil {
			slog.Warn("metrics not written", "file", opts.MetricsFile, "error", err)
		}
	}

	if runErr != nil {
		return formatter.Fail(ExitFailure, "reduction failed", runErr)
	}
	return outputRuns(formatter, contexts, opts.ReportHistory)
}

// buildJob turns flags, the parameter file and arguments into a job.
// Files named in the parameter file follow those on the command line.
func buildJob(opts *RunOptions, e *env, args []string) (engine.Job, []string, error) {
	job := engine.Job{
		Recipe:     opts.Recipe,
		AstroType:  opts.AstroType,
		Globals:    map[string]any{},
		UserParams: &ir.UserParams{},
	}
	if job.Recipe == "" {
		job.Recipe = DefaultRecipe
	}
	if opts.RecipeFile != "" {
		src, err := os.ReadFile(opts.RecipeFile)
		if err != nil {
			return job, nil, fmt.Errorf("read recipe file: %w", err)
		}
		job.Recipe = recipeName(opts.RecipeFile)
		job.Source = string(src)
	}

	files := append([]string(nil), args...)
	if opts.ParamFile != "" {
		f, err := os.Open(opts.ParamFile)
		if err != nil {
			return job, nil, fmt.Errorf("read parameter file: %w", err)
		}
		defer f.Close()
		pf, err := compiler.ParseParamFile(opts.ParamFile, f, e.reg.Types().Has)
		if err != nil {
			return job, nil, err
		}
		for _, up := range pf.UserParams {
			if err := job.UserParams.Add(up); err != nil {
				return job, nil, err
			}
		}
		for k, v := range pf.Globals {
			job.Globals[k] = v
		}
		if r, ok := pf.Options["recipe"]; ok && opts.Recipe == "" && opts.RecipeFile == "" {
			job.Recipe = r
		}
		if t, ok := pf.Options["astrotype"]; ok && job.AstroType == "" {
			job.AstroType = t
		}
		files = append(files, pf.Files...)
	}

	settings := append(append([]string(nil), opts.Params...), opts.UserParams...)
	for _, s := range settings {
		ups, globals, err := compiler.ParseParamFlag(s)
		if err != nil {
			return job, nil, err
		}
		for _, up := range ups {
			if err := job.UserParams.Add(up); err != nil {
				return job, nil, err
			}
		}
		for k, v := range globals {
			job.Globals[k] = v
		}
	}

	for _, f := range files {
		job.Inputs = append(job.Inputs, ir.NewDataset(f))
	}
	return job, files, nil
}

// runInteractive reads recipe lines from stdin. The job's recipe is only
// bound when one was named, so a type without the default recipe can
// still be reduced interactively.
func runInteractive(ctx context.Context, d *engine.Driver, job engine.Job, bind bool, cmd *cobra.Command) (*engine.ReductionContext, error) {
	var ro *engine.ReductionObject
	var err error
	if bind {
		ro, err = d.CompileAndBind(ctx, job)
	} else {
		ro, err = d.ReductionObject(ctx, job)
	}
	if err != nil {
		return nil, err
	}
	rc, err := d.NewContext(ctx, ro, job)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "interactive reduction %s (%s); type a recipe line, reset or exit\n", rc.RunID(), ro.AstroType)
	return rc, d.Interactive(ctx, ro, rc, cmd.InOrStdin(), cmd.OutOrStdout())
}

// RunSummary is the JSON output of one finished run. Outputs are the
// datasets the context holds at the end: the last step outputs, promoted.
type RunSummary struct {
	RunID   string            `json:"run_id"`
	Status  ir.Status         `json:"status"`
	Outputs []string          `json:"outputs"`
	History []ir.HistoryEntry `json:"history,omitempty"`

	rc *engine.ReductionContext
}

func outputRuns(formatter *OutputFormatter, contexts []*engine.ReductionContext, withHistory bool) error {
	summaries := make([]RunSummary, 0, len(contexts))
	for _, rc := range contexts {
		if rc == nil {
			continue
		}
		s := RunSummary{RunID: rc.RunID(), Status: rc.Status(), Outputs: []string{}, rc: rc}
		s.Outputs = append(s.Outputs, rc.InputFilenames()...)
		if withHistory {
			s.History = rc.History()
		}
		summaries = append(summaries, s)
	}

	if formatter.Format == "json" {
		return formatter.Success(summaries)
	}
	for _, s := range summaries {
		fmt.Fprintf(formatter.Writer, "✓ Run %s finished\n", s.RunID)
		for _, out := range s.Outputs {
			fmt.Fprintf(formatter.Writer, "  output: %s\n", filepath.Clean(out))
		}
		if withHistory {
			fmt.Fprint(formatter.Writer, s.rc.ReportHistory())
		}
	}
	return nil
}

// signalContext returns the command's context, cancelled on SIGINT or
// SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(commandContext(cmd))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, stopping reduction", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}

// commandContext returns the command's context, or Background when the
// command was not started through Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
