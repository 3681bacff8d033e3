package registry

import (
	"fmt"
	"path/filepath"

	"github.com/gobwas/glob"

	"github.com/roach88/reduce/internal/ir"
)

// Classifier tells which astrotypes a dataset has. The registry uses it
// when a reduction is started without an explicit astrotype.
type Classifier interface {
	Classify(ds ir.Dataset) ([]string, error)
}

// Rule assigns Types to datasets whose filename (or the header keyword
// Keyword, when set) matches the glob Pattern.
type Rule struct {
	Pattern string   `yaml:"pattern" json:"pattern"`
	Keyword string   `yaml:"keyword,omitempty" json:"keyword,omitempty"`
	Types   []string `yaml:"types" json:"types"`
}

type compiledRule struct {
	Rule
	g glob.Glob
}

// RuleClassifier classifies datasets by glob rules. Every matching rule
// contributes its types.
type RuleClassifier struct {
	rules []compiledRule
}

// NewRuleClassifier compiles rules.
func NewRuleClassifier(rules ...Rule) (*RuleClassifier, error) {
	c := &RuleClassifier{}
	for i, r := range rules {
		g, err := glob.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("classifier rule %d: pattern %q: %w", i, r.Pattern, err)
		}
		if len(r.Types) == 0 {
			return nil, fmt.Errorf("classifier rule %d: pattern %q assigns no types", i, r.Pattern)
		}
		c.rules = append(c.rules, compiledRule{Rule: r, g: g})
	}
	return c, nil
}

// Classify implements Classifier.
func (c *RuleClassifier) Classify(ds ir.Dataset) ([]string, error) {
	var out []string
	for _, r := range c.rules {
		subject := filepath.Base(ds.Filename)
		if r.Keyword != "" {
			v, ok := ds.Meta[r.Keyword]
			if !ok {
				continue
			}
			subject = v
		}
		if !r.g.Match(subject) {
			continue
		}
		for _, t := range r.Types {
			if !contains(out, t) {
				out = append(out, t)
			}
		}
	}
	return out, nil
}
