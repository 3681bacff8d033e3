package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/reduce/internal/compiler"
	"github.com/roach88/reduce/internal/ir"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output string // output file path
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <recipe-file>",
		Short: "Compile a recipe to its instruction list",
		Long: `Compile a recipe file and print the instruction list the
interpreter runs: one conditional invocation per recipe line, with its
arguments and the recipe-local keys that can skip it.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write the compiled program as JSON to this file")

	return cmd
}

func runCompile(opts *CompileOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	src, err := os.ReadFile(path)
	if err != nil {
		_ = formatter.Error(ErrCodeNotFound, fmt.Sprintf("reading recipe: %v", err), nil)
		return WrapExitError(ExitCommandError, "reading recipe", err)
	}

	name := recipeName(path)
	formatter.VerboseLog("Compiling recipe %s from %s", name, path)
	prog, err := compiler.ParseRecipe(name, string(src))
	if err != nil {
		return formatter.Fail(ExitCommandError, "compilation failed", err)
	}

	if opts.Output != "" {
		if err := writeProgram(prog, opts.Output); err != nil {
			return formatter.Fail(ExitCommandError, "writing output file", err)
		}
	}

	if formatter.Format == "json" {
		return formatter.Success(prog)
	}

	fmt.Fprintf(formatter.Writer, "✓ Compiled %s: %d instruction(s)\n\n", prog.Name, len(prog.Instructions))
	for _, in := range prog.Instructions {
		fmt.Fprintf(formatter.Writer, "%4d  %-18s %s%s\n", in.LineNo, in.Op, in.Primitive, formatArgs(in.Args))
		if len(in.ConditionalKeys) > 0 {
			fmt.Fprintf(formatter.Writer, "      skip if: %s\n", strings.Join(in.ConditionalKeys, " | "))
		}
	}
	if opts.Output != "" {
		fmt.Fprintf(formatter.Writer, "\nWrote compiled program to %s\n", opts.Output)
	}
	return nil
}

func formatArgs(args ir.Args) string {
	if len(args) == 0 {
		return ""
	}
	parts := make([]string, 0, len(args))
	for _, k := range args.Keys() {
		v := args[k]
		if v.Flag {
			parts = append(parts, k)
			continue
		}
		parts = append(parts, fmt.Sprintf("%s=%q", k, v.Str))
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func writeProgram(prog *ir.Program, filename string) error {
	data, err := json.MarshalIndent(prog, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling program: %w", err)
	}
	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}
	return nil
}
