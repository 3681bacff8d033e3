package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/reduce/internal/compiler"
	"github.com/roach88/reduce/internal/ir"
)

// DefaultAstroType is the astrotype scenarios run as when they name none.
const DefaultAstroType = "SCENARIO"

// Scenario defines a recipe run with scripted primitives and the
// assertions its outcome must satisfy.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Recipe is the recipe text run under Name.
	Recipe string `yaml:"recipe"`

	// Recipes are further recipes, by name, the main recipe may invoke.
	Recipes map[string]string `yaml:"recipes,omitempty"`

	// AstroType defaults to DefaultAstroType.
	AstroType string `yaml:"astrotype,omitempty"`

	Inputs []Input `yaml:"inputs"`

	// Local is the recipe-local overlay, e.g. {stack: "false"} to skip
	// the stack line.
	Local map[string]any `yaml:"local,omitempty"`

	// Globals are ambient parameters.
	Globals map[string]any `yaml:"globals,omitempty"`

	// UserParams are overrides in TYPE:primitive:param=value form.
	UserParams []string `yaml:"user_params,omitempty"`

	// Primitives scripts every primitive the recipes invoke.
	Primitives map[string]Primitive `yaml:"primitives"`

	// Params declares primitive parameters: primitive -> name -> decl.
	Params map[string]map[string]ParamDecl `yaml:"params,omitempty"`

	// ExpectError, when set, is a substring the run error must contain.
	// Without it any run error fails the scenario.
	ExpectError string `yaml:"expect_error,omitempty"`

	// RunID is the fixed run id. Defaults to "run-<name>".
	RunID string `yaml:"run_id,omitempty"`

	Assertions []Assertion `yaml:"assertions"`
}

// Input is a scenario dataset: a bare filename, or a mapping with the
// header keywords that give it an identity.
type Input struct {
	File string            `yaml:"file"`
	Meta map[string]string `yaml:"meta,omitempty"`
}

// UnmarshalYAML accepts a scalar filename or a mapping.
func (in *Input) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		in.File = node.Value
		return nil
	}
	type plain Input
	return node.Decode((*plain)(in))
}

// Dataset converts the input to a dataset.
func (in Input) Dataset() ir.Dataset {
	ds := ir.NewDataset(in.File)
	if len(in.Meta) > 0 {
		ds.Meta = make(map[string]string, len(in.Meta))
		for k, v := range in.Meta {
			ds.Meta[k] = v
		}
	}
	return ds
}

// Primitive scripts what a primitive does when it runs.
type Primitive struct {
	// Yields is the number of snapshots the primitive yields first.
	Yields int `yaml:"yields,omitempty"`

	// Requests are queued after yielding.
	Requests []RequestSpec `yaml:"requests,omitempty"`

	// Capture lists parameters whose values are recorded in the result.
	Capture []string `yaml:"capture,omitempty"`

	// Fail makes the primitive return an error with this message.
	Fail string `yaml:"fail,omitempty"`

	// Suffix renames every input into an output.
	Suffix string `yaml:"suffix,omitempty"`

	// Outputs are reported after the suffixed inputs.
	Outputs []string `yaml:"outputs,omitempty"`

	// Finish ends the run after this primitive.
	Finish bool `yaml:"finish,omitempty"`
}

// RequestSpec is a request a scripted primitive queues.
type RequestSpec struct {
	// Kind is display, stack_update, stack_get or clear_cache.
	Kind    string   `yaml:"kind"`
	ID      string   `yaml:"id,omitempty"`      // display id
	Purpose string   `yaml:"purpose,omitempty"` // stack purpose
	Caches  []string `yaml:"caches,omitempty"`  // caches to clear
}

// ParamDecl declares one primitive parameter.
type ParamDecl struct {
	Default      any    `yaml:"default"`
	Type         string `yaml:"type"`
	UserOverride *bool  `yaml:"user_override,omitempty"`
}

// Assertion validates the outcome of a run.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Step is the step name (history_count, skipped, param).
	Step string `yaml:"step,omitempty"`

	// Steps is the expected begin order (history_order).
	Steps []string `yaml:"steps,omitempty"`

	// Count is the expected count (history_count, snapshots).
	Count int `yaml:"count,omitempty"`

	// Files are the expected final inputs (inputs).
	Files []string `yaml:"files,omitempty"`

	// Param and Value are the expected captured value (param).
	Param string `yaml:"param,omitempty"`
	Value any    `yaml:"value,omitempty"`
}

// Assertion type constants.
const (
	AssertHistoryCount = "history_count"
	AssertHistoryOrder = "history_order"
	AssertInputs       = "inputs"
	AssertSnapshots    = "snapshots"
	AssertSkipped      = "skipped"
	AssertParam        = "param"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Reject unknown fields so "assertion:" for "assertions:" is caught.
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// LoadDir loads every *.yaml scenario in dir, ordered by file name.
func LoadDir(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	scenarios := make([]*Scenario, 0, len(paths))
	names := map[string]string{}
	for _, path := range paths {
		s, err := LoadScenario(path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		if prev, dup := names[s.Name]; dup {
			return nil, fmt.Errorf("%s: scenario %q already defined in %s", filepath.Base(path), s.Name, prev)
		}
		names[s.Name] = filepath.Base(path)
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

func (s *Scenario) astroType() string {
	if s.AstroType == "" {
		return DefaultAstroType
	}
	return s.AstroType
}

func (s *Scenario) runID() string {
	if s.RunID == "" {
		return "run-" + s.Name
	}
	return s.RunID
}

// paramTable converts the declarations to a parameter table.
func (s *Scenario) paramTable() ir.ParamTable {
	table := ir.ParamTable{}
	for prim, decls := range s.Params {
		table[prim] = map[string]ir.ParamSpec{}
		for name, d := range decls {
			table[prim][name] = ir.ParamSpec{
				Default:      d.Default,
				HasDefault:   d.Default != nil,
				Type:         d.Type,
				UserOverride: d.UserOverride,
			}
		}
	}
	return table
}

// userParams parses the user overrides.
func (s *Scenario) userParams() (*ir.UserParams, error) {
	ups := &ir.UserParams{}
	for _, setting := range s.UserParams {
		parsed, _, err := compiler.ParseParamFlag(setting)
		if err != nil {
			return nil, err
		}
		if len(parsed) == 0 {
			return nil, fmt.Errorf("user param %q must have the form TYPE:primitive:param=value", setting)
		}
		for _, up := range parsed {
			if err := ups.Add(up); err != nil {
				return nil, err
			}
		}
	}
	return ups, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if strings.ContainsAny(s.Name, `/\ `) {
		return fmt.Errorf("name %q must be usable as a file name", s.Name)
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if strings.TrimSpace(s.Recipe) == "" {
		return fmt.Errorf("recipe is required")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, in := range s.Inputs {
		if in.File == "" {
			return fmt.Errorf("inputs[%d]: file is required", i)
		}
	}

	for _, name := range sortedKeys(s.Primitives) {
		p := s.Primitives[name]
		if p.Yields < 0 {
			return fmt.Errorf("primitives.%s: yields must be non-negative", name)
		}
		for j, r := range p.Requests {
			if err := validateRequest(r); err != nil {
				return fmt.Errorf("primitives.%s.requests[%d]: %w", name, j, err)
			}
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateRequest(r RequestSpec) error {
	switch ir.RequestKind(r.Kind) {
	case ir.RequestKindDisplay, ir.RequestKindStackUpdate, ir.RequestKindStackGet, ir.RequestKindClearCache:
		return nil
	case "":
		return fmt.Errorf("kind is required")
	default:
		return fmt.Errorf("unsupported request kind %q", r.Kind)
	}
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertHistoryCount:
		if a.Step == "" {
			return fmt.Errorf("assertions[%d]: step is required for history_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for history_count", index)
		}
	case AssertHistoryOrder:
		if len(a.Steps) == 0 {
			return fmt.Errorf("assertions[%d]: steps list is required for history_order", index)
		}
	case AssertInputs:
		if a.Files == nil {
			return fmt.Errorf("assertions[%d]: files is required for inputs", index)
		}
	case AssertSnapshots:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for snapshots", index)
		}
	case AssertSkipped:
		if a.Step == "" {
			return fmt.Errorf("assertions[%d]: step is required for skipped", index)
		}
	case AssertParam:
		if a.Step == "" || a.Param == "" {
			return fmt.Errorf("assertions[%d]: step and param are required for param", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
