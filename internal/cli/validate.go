package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/reduce/internal/compiler"
	"github.com/roach88/reduce/internal/engine"
	"github.com/roach88/reduce/internal/ir"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	AstroType string
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool                        `json:"valid"`
	Errors   []compiler.ValidationError `json:"errors,omitempty"`
	Warnings []compiler.CycleWarning    `json:"warnings,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <recipe-file>...",
		Short: "Check recipes without running them",
		Long: `Check recipe files without running them.

Each file is compiled and checked for empty recipes, self invocation and
repeated lines. With --astrotype the primitive sets for that astrotype are
resolved and every line is checked against them: unknown primitives and
arguments the primitive does not declare are reported. Recipes among the
given files that invoke each other in a loop are reported as warnings.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, args, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.AstroType, "astrotype", "t", "", "check lines against the primitive sets of this astrotype")

	return cmd
}

func runValidate(opts *ValidateOptions, paths []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	progs := map[string]*ir.Program{}
	var order []string
	var validationErrors []compiler.ValidationError
	for _, path := range paths {
		src, err := os.ReadFile(path)
		if err != nil {
			_ = formatter.Error(ErrCodeNotFound, fmt.Sprintf("reading recipe: %v", err), nil)
			return WrapExitError(ExitCommandError, "reading recipe", err)
		}
		name := recipeName(path)
		formatter.VerboseLog("Validating recipe %s (%s)", name, path)
		prog, err := compiler.ParseRecipe(name, string(src))
		if err != nil {
			validationErrors = append(validationErrors, compileValidationError(name, err))
			continue
		}
		progs[name] = prog
		order = append(order, name)
	}

	var check func(*ir.Program) []compiler.ValidationError
	if opts.AstroType != "" {
		ro, reg, err := resolveObject(opts, cmd)
		if err != nil {
			return formatter.Fail(ExitCommandError, "resolving primitive sets", err)
		}
		known := func(name string) bool {
			if ro.HasStep(name) {
				return true
			}
			if _, ok := progs[name]; ok {
				return true
			}
			_, ok, _ := reg.RetrieveRecipe(name, opts.AstroType, true)
			return ok
		}
		check = func(prog *ir.Program) []compiler.ValidationError {
			params := ir.ParamTable{}
			for _, p := range prog.Primitives() {
				if table := ro.ParamTable(p); table != nil {
					params[p] = table[p]
				}
			}
			return compiler.ValidateAgainst(prog, known, params)
		}
	} else {
		check = func(prog *ir.Program) []compiler.ValidationError {
			return compiler.Validate(prog)
		}
	}

	for _, name := range order {
		validationErrors = append(validationErrors, check(progs[name])...)
	}
	warnings := compiler.AnalyzeCycles(progs)

	result := ValidationResult{
		Valid:    len(validationErrors) == 0,
		Errors:   validationErrors,
		Warnings: warnings,
	}
	if err := outputValidation(formatter, result, len(paths)); err != nil {
		return err
	}
	if !result.Valid {
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(validationErrors)))
	}
	return nil
}

// resolveObject builds the registry and the reduction object the
// validated recipes would run on.
func resolveObject(opts *ValidateOptions, cmd *cobra.Command) (*engine.ReductionObject, recipeLookup, error) {
	e, err := loadEnv(opts.RootOptions)
	if err != nil {
		return nil, nil, err
	}
	if err := e.buildRegistry(io.Discard, false); err != nil {
		return nil, nil, err
	}
	ro, err := e.reg.RetrieveReductionObject(commandContext(cmd), opts.AstroType, ir.Dataset{})
	if err != nil {
		return nil, nil, err
	}
	return ro, e.reg, nil
}

type recipeLookup interface {
	RetrieveRecipe(name, astrotype string, inherit bool) (string, bool, error)
}

func compileValidationError(name string, err error) compiler.ValidationError {
	v := compiler.ValidationError{Field: name, Message: err.Error(), Code: ErrorCode(err)}
	var ce *compiler.CompileError
	if errors.As(err, &ce) {
		v.Line = ce.Line
		v.Message = ce.Message
	}
	return v
}

func outputValidation(formatter *OutputFormatter, result ValidationResult, files int) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	for _, w := range result.Warnings {
		fmt.Fprintf(formatter.Writer, "warning: %s\n", w.Message)
	}
	if result.Valid {
		fmt.Fprintf(formatter.Writer, "✓ %d recipe(s) valid\n", files)
		return nil
	}
	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)
	for _, e := range result.Errors {
		fmt.Fprintf(formatter.Writer, "  %s\n", e.Error())
	}
	return nil
}
