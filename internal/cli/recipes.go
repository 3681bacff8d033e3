package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// RecipesOptions holds flags for the recipes command.
type RecipesOptions struct {
	*RootOptions
	AstroType string
}

// RecipeEntry is one indexed recipe.
type RecipeEntry struct {
	Name string `json:"name"`
	Path string `json:"path,omitempty"`
	Type string `json:"astrotype,omitempty"` // type the recipe index assigns it to
}

// NewRecipesCommand creates the recipes command.
func NewRecipesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RecipesOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "recipes",
		Short: "List indexed recipes",
		Long: `List the recipes found under the configured recipe paths.

With --astrotype, list the recipes the recipe indices assign to that
astrotype and to each of its ancestors, most specific first.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecipes(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.AstroType, "astrotype", "t", "", "list recipes applicable to this astrotype")

	return cmd
}

func runRecipes(opts *RecipesOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	e, err := loadEnv(opts.RootOptions)
	if err != nil {
		return err
	}
	if err := e.buildRegistry(io.Discard, false); err != nil {
		return err
	}

	var entries []RecipeEntry
	if opts.AstroType == "" {
		index := e.reg.RecipeIndex()
		for _, name := range e.reg.RecipeNames() {
			entries = append(entries, RecipeEntry{Name: name, Path: index[name]})
		}
	} else {
		graph := e.reg.Types()
		if !graph.Has(opts.AstroType) {
			_ = formatter.Error(ErrCodeNotFound, fmt.Sprintf("unknown astrotype %q", opts.AstroType), nil)
			return NewExitError(ExitCommandError, fmt.Sprintf("unknown astrotype %q", opts.AstroType))
		}
		types := append([]string{opts.AstroType}, graph.Ancestors(opts.AstroType)...)
		byType := e.reg.ApplicableRecipesByType(types...)
		for _, t := range types {
			for _, name := range byType[t] {
				entries = append(entries, RecipeEntry{Name: name, Type: t})
			}
		}
	}
	if entries == nil {
		entries = []RecipeEntry{}
	}

	if formatter.Format == "json" {
		return formatter.Success(entries)
	}
	if len(entries) == 0 {
		fmt.Fprintln(formatter.Writer, "No recipes found")
		return nil
	}
	for _, r := range entries {
		switch {
		case r.Type != "":
			fmt.Fprintf(formatter.Writer, "%-24s %s\n", r.Name, r.Type)
		default:
			fmt.Fprintf(formatter.Writer, "%-24s %s\n", r.Name, r.Path)
		}
	}
	return nil
}
