// Package config loads reduce.yaml: where recipes live, where the cache
// directories and indexes go, and how untyped datasets are classified.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/roach88/reduce/internal/engine"
	"github.com/roach88/reduce/internal/registry"
)

// DefaultFile is the config file looked up when --config is not given.
const DefaultFile = "reduce.yaml"

// DefaultCacheDir is the cache root used when the file names none.
const DefaultCacheDir = ".reducecache"

// Config is the parsed configuration file.
type Config struct {
	RecipePaths      []string          `yaml:"recipe_paths" json:"recipe_paths"`
	CacheDir         string            `yaml:"cache_dir" json:"cache_dir"`
	CalibrationIndex string            `yaml:"calibration_index" json:"calibration_index"`
	StackIndex       string            `yaml:"stack_index" json:"stack_index"`
	Caches           map[string]string `yaml:"caches" json:"caches"`
	Classifier       []registry.Rule   `yaml:"classifier,omitempty" json:"classifier,omitempty"`
	Metrics          bool              `yaml:"metrics" json:"metrics"`
}

var _ engine.CacheManager = (*Config)(nil)

// Default returns the configuration used when no file exists.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads the config file at path. A missing file yields Default.
// Relative recipe paths and cache_dir are resolved against the file's
// directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}

	base := filepath.Dir(path)
	for i, p := range cfg.RecipePaths {
		cfg.RecipePaths[i] = resolve(base, p)
	}
	cfg.CacheDir = resolve(base, cfg.CacheDir)
	if cfg.CalibrationIndex != "" {
		cfg.CalibrationIndex = resolve(base, cfg.CalibrationIndex)
	}
	if cfg.StackIndex != "" {
		cfg.StackIndex = resolve(base, cfg.StackIndex)
	}
	cfg.applyDefaults()
	return cfg, nil
}

// Parse decodes YAML config text. Unknown keys are errors.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if _, err := registry.NewRuleClassifier(cfg.Classifier...); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.CacheDir == "" {
		c.CacheDir = DefaultCacheDir
	}
	if c.CalibrationIndex == "" {
		c.CalibrationIndex = filepath.Join(c.CacheDir, "calindex.db")
	}
	if c.StackIndex == "" {
		c.StackIndex = filepath.Join(c.CacheDir, "stkindex.db")
	}
	if c.Caches == nil {
		c.Caches = map[string]string{}
	}
	for _, name := range []string{engine.CacheStoredCals, engine.CacheRetrievedCals, engine.CacheCalibrations} {
		if _, ok := c.Caches[name]; !ok {
			c.Caches[name] = name
		}
	}
}

// ClassifierRules compiles the classifier section, or returns nil when
// it is empty.
func (c *Config) ClassifierRules() (registry.Classifier, error) {
	if len(c.Classifier) == 0 {
		return nil, nil
	}
	rc, err := registry.NewRuleClassifier(c.Classifier...)
	if err != nil {
		return nil, err
	}
	return rc, nil
}

// Dir returns the directory of cache name, or "" if none is configured.
func (c *Config) Dir(name string) string {
	sub, ok := c.Caches[name]
	if !ok {
		return ""
	}
	return resolve(c.CacheDir, sub)
}

// CacheNames returns the configured cache names in sorted order.
func (c *Config) CacheNames() []string {
	names := make([]string, 0, len(c.Caches))
	for name := range c.Caches {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetCaches creates the cache root and every named cache directory.
func (c *Config) SetCaches() error {
	if err := os.MkdirAll(c.CacheDir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	for _, name := range c.CacheNames() {
		if err := os.MkdirAll(c.Dir(name), 0o755); err != nil {
			return fmt.Errorf("create cache %s: %w", name, err)
		}
	}
	return nil
}

// ResetCaches empties the named caches, or every cache when names is
// empty. Each directory is removed and re-created.
func (c *Config) ResetCaches(names ...string) error {
	if len(names) == 0 {
		names = c.CacheNames()
	}
	for _, name := range names {
		dir := c.Dir(name)
		if dir == "" {
			return fmt.Errorf("unknown cache %q", name)
		}
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("clear cache %s: %w", name, err)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("clear cache %s: %w", name, err)
		}
	}
	return nil
}

func resolve(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}
