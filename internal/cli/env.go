package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/roach88/reduce/internal/config"
	"github.com/roach88/reduce/internal/engine"
	"github.com/roach88/reduce/internal/ir"
	"github.com/roach88/reduce/internal/primitives"
	"github.com/roach88/reduce/internal/registry"
	"github.com/roach88/reduce/internal/store"
	"github.com/roach88/reduce/internal/store/bolt"
)

// env is what a command needs from the config file: the registry and the
// persistent indexes. Fields are nil until opened.
type env struct {
	cfg     *config.Config
	reg     *registry.Registry
	cals    *store.Store
	stacks  *bolt.Storage
	metrics *engine.Metrics
}

func loadEnv(opts *RootOptions) (*env, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	slog.Debug("config loaded", "file", opts.Config, "recipe_paths", len(cfg.RecipePaths), "cache_dir", cfg.CacheDir)
	return &env{cfg: cfg}, nil
}

// buildRegistry indexes the recipe paths and registers the built-in
// primitive sets, whose show primitives write to w. Step metrics are
// collected when the config or withMetrics asks for them.
func (e *env) buildRegistry(w io.Writer, withMetrics bool) error {
	opts := []registry.Option{registry.WithFallbackSets(primitives.GeneralSet)}
	classifier, err := e.cfg.ClassifierRules()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid classifier rules", err)
	}
	if classifier != nil {
		opts = append(opts, registry.WithClassifier(classifier))
	}
	if e.cfg.Metrics || withMetrics {
		e.metrics = engine.NewMetrics("reduce")
		opts = append(opts, registry.WithObjectOptions(engine.WithStepObserver(e.metrics)))
	}

	reg, err := registry.Build(e.cfg.RecipePaths, opts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to index recipe paths", err)
	}
	for name, f := range primitives.Factories(w) {
		reg.RegisterFactory(name, f)
	}
	e.reg = reg
	return nil
}

// openStores creates the cache directories and opens the calibration
// index and run history, plus the stack index when withStacks is set.
func (e *env) openStores(withStacks bool) error {
	if err := e.cfg.SetCaches(); err != nil {
		return WrapExitError(ExitCommandError, "failed to create caches", err)
	}
	cals, err := store.Open(e.cfg.CalibrationIndex)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open calibration index", err)
	}
	e.cals = cals
	if !withStacks {
		return nil
	}
	stacks, err := bolt.Open(e.cfg.StackIndex)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open stack index", err)
	}
	e.stacks = stacks
	return nil
}

func (e *env) Close() {
	if e.cals != nil {
		if err := e.cals.Close(); err != nil {
			slog.Error("error closing calibration index", "error", err)
		}
	}
	if e.stacks != nil {
		if err := e.stacks.Close(); err != nil {
			slog.Error("error closing stack index", "error", err)
		}
	}
}

// recipeName derives a recipe name from a recipe file: recipe.NAME gives
// NAME, anything else its basename without extension.
func recipeName(path string) string {
	base := filepath.Base(path)
	if name, ok := strings.CutPrefix(base, "recipe."); ok && name != "" {
		return name
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// textDisplay is the display service of the command line: it lists what
// would be shown.
type textDisplay struct {
	w io.Writer
}

var _ engine.DisplayService = textDisplay{}

func (d textDisplay) Display(_ context.Context, req ir.DisplayRequest) error {
	_, err := fmt.Fprintf(d.w, "display %s: %s\n", req.DisplayID, strings.Join(req.Filenames, " "))
	return err
}
