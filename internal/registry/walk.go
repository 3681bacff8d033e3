package registry

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"regexp"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/roach88/reduce/internal/compiler"
	"github.com/roach88/reduce/internal/ir"
)

// File categories recognized by the walk, matched against base names.
var (
	recipeFile         = regexp.MustCompile(`^recipe\.(?P<name>.+)$`)
	primitiveIndexFile = regexp.MustCompile(`^primitivesIndex\.(?P<mod>.+)\.cue$`)
	definitionFile     = regexp.MustCompile(`^primitives_(?P<name>.+)\.cue$`)
	recipeIndexFile    = regexp.MustCompile(`^recipeIndex\.(?P<mod>.+)\.cue$`)
	parameterSetFile   = regexp.MustCompile(`^parameters\.(?P<name>.+)\.cue$`)
	parameterIndexFile = regexp.MustCompile(`^parametersIndex\.(?P<mod>.+)\.cue$`)
	typeGraphFile      = regexp.MustCompile(`^astrotypes\.(?P<mod>.+)\.cue$`)
)

// Build walks each root in lexical order and indexes what it finds.
func Build(roots []string, opts ...Option) (*Registry, error) {
	r := newRegistry(opts)
	b := &builder{r: r, cue: cuecontext.New()}
	for _, root := range roots {
		if err := filepath.WalkDir(root, b.visit); err != nil {
			return nil, fmt.Errorf("index %s: %w", root, err)
		}
	}
	slog.Debug("registry built",
		"roots", len(roots),
		"recipes", len(r.recipes),
		"primitive_types", len(r.primIndex),
		"parameter_sets", len(r.paramSets),
		"astrotypes", len(r.graph.order))
	return r, nil
}

type builder struct {
	r   *Registry
	cue *cue.Context
}

func (b *builder) visit(path string, d fs.DirEntry, err error) error {
	if err != nil {
		return err
	}
	if d.IsDir() {
		return nil
	}
	name := d.Name()

	switch {
	case recipeFile.MatchString(name):
		return b.addRecipe(recipeFile.FindStringSubmatch(name)[1], path)
	case primitiveIndexFile.MatchString(name):
		return b.withCUE(path, b.addPrimitiveIndex)
	case definitionFile.MatchString(name):
		return b.withCUE(path, func(_ string, v cue.Value) error {
			table, err := compiler.CompileParamTable(v)
			if err != nil {
				return err
			}
			b.r.paramTables[name] = table
			return nil
		})
	case recipeIndexFile.MatchString(name):
		return b.withCUE(path, func(_ string, v cue.Value) error {
			idx, err := compiler.CompileRecipeIndex(v)
			if err != nil {
				return err
			}
			for typ, names := range idx {
				b.r.typeRecipes[typ] = append(b.r.typeRecipes[typ], names...)
			}
			return nil
		})
	case parameterSetFile.MatchString(name):
		set := parameterSetFile.FindStringSubmatch(name)[1]
		return b.withCUE(path, func(_ string, v cue.Value) error {
			values, err := compiler.CompileParameterSet(v)
			if err != nil {
				return err
			}
			b.r.paramSets[set] = values
			return nil
		})
	case parameterIndexFile.MatchString(name):
		return b.withCUE(path, b.addParameterIndex)
	case typeGraphFile.MatchString(name):
		return b.withCUE(path, func(_ string, v cue.Value) error {
			decls, err := compiler.CompileTypeGraph(v)
			if err != nil {
				return err
			}
			for _, d := range decls {
				if err := b.r.graph.AddType(d.Name, d.Parents...); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return nil
}

func (b *builder) withCUE(path string, fn func(string, cue.Value) error) error {
	v, err := compiler.LoadCUE(b.cue, path)
	if err != nil {
		return err
	}
	if err := fn(path, v); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// addRecipe indexes a recipe file. The same file reached twice (through
// two roots or a symlink) is accepted; two files with one name are not.
func (b *builder) addRecipe(name, path string) error {
	existing, ok := b.r.recipes[name]
	if ok {
		same, err := samePath(existing, path)
		if err != nil {
			return err
		}
		if !same {
			return &ir.ConfigurationError{
				Code:    ir.ErrCodeDuplicateRecipe,
				Message: fmt.Sprintf("two recipes named %s: %s and %s", name, existing, path),
			}
		}
	}
	b.r.recipes[name] = path
	return nil
}

func (b *builder) addParameterIndex(path string, v cue.Value) error {
	idx, err := compiler.CompileParameterIndex(v)
	if err != nil {
		return err
	}
	for _, typ := range sortedKeys(idx) {
		if prev, ok := b.r.typeParams[typ]; ok {
			slog.Warn("multiple parameter indexes for astrotype; earlier entries take precedence",
				"astrotype", typ, "file", path, "existing", len(prev), "added", len(idx[typ]))
		}
		b.r.typeParams[typ] = append(b.r.typeParams[typ], idx[typ]...)
	}
	return nil
}

func (b *builder) addPrimitiveIndex(path string, v cue.Value) error {
	idx, err := compiler.CompilePrimitiveIndex(v)
	if err != nil {
		return err
	}
	if idx == nil {
		slog.Warn("primitive index declares no localPrimitiveIndex", "file", path)
		return nil
	}
	for _, typ := range sortedKeys(idx) {
		if prev, ok := b.r.primIndex[typ]; ok {
			slog.Warn("multiple primitive sets for astrotype; earlier entries take precedence",
				"astrotype", typ, "file", path, "existing", len(prev), "added", len(idx[typ]))
		}
		b.r.primIndex[typ] = append(b.r.primIndex[typ], idx[typ]...)
	}
	return nil
}

func samePath(a, b string) (bool, error) {
	ca, err := canonical(a)
	if err != nil {
		return false, err
	}
	cb, err := canonical(b)
	if err != nil {
		return false, err
	}
	return ca == cb, nil
}

func canonical(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return abs, nil
	}
	return resolved, err
}
