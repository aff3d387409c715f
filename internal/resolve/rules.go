package resolve

import (
	"fmt"
	"os"
	"regexp"

	"go.yaml.in/yaml/v3"

	"github.com/ecrowe/taskforge/pkg/models"
)

// Rule is a domain ordering heuristic: when one task matches the source
// pattern and another matches the target pattern, the source task must run
// first.
type Rule struct {
	// Name identifies the rule in edge provenance and logs.
	Name string `yaml:"name"`
	// Source is a regexp matched against the upstream task's title and description.
	Source string `yaml:"source"`
	// Target is a regexp matched against the downstream task's title and description.
	Target string `yaml:"target"`
	// Type is the dependency type the rule produces. Defaults to logical.
	Type models.DependencyType `yaml:"type"`
	// Confidence is the rule's confidence in [0,1].
	Confidence float64 `yaml:"confidence"`
	// Description documents the heuristic.
	Description string `yaml:"description"`

	source *regexp.Regexp
	target *regexp.Regexp
}

// builtinRules is the default ordering rule table.
var builtinRules = []Rule{
	{
		Name:        "research_before_implementation",
		Source:      `research|investigate|evaluate`,
		Target:      `implement|build|create|develop`,
		Confidence:  0.8,
		Description: "research output informs implementation",
	},
	{
		Name:        "design_before_implementation",
		Source:      `design|architect|plan`,
		Target:      `implement|build|create`,
		Confidence:  0.9,
		Description: "designs are settled before code is written",
	},
	{
		Name:        "implementation_before_testing",
		Source:      `implement|build|create|develop`,
		Target:      `test|verify|validate`,
		Confidence:  0.9,
		Description: "tests run against finished implementations",
	},
	{
		Name:        "schema_before_data_access",
		Source:      `schema|database design`,
		Target:      `data access|repository|query layer`,
		Confidence:  0.9,
		Description: "the schema exists before code reads it",
	},
	{
		Name:        "api_before_client",
		Source:      `api|endpoint|server`,
		Target:      `client|frontend|consume`,
		Confidence:  0.8,
		Description: "clients are written against a working API",
	},
	{
		Name:        "auth_before_protected",
		Source:      `\bauth\b|authentication|login`,
		Target:      `protected|secure route|authorized`,
		Confidence:  0.8,
		Description: "protected surfaces need auth in place",
	},
	{
		Name:        "components_before_ui",
		Source:      `component|widget`,
		Target:      `page|screen|layout`,
		Confidence:  0.7,
		Description: "pages compose existing components",
	},
	{
		Name:        "unit_before_integration_tests",
		Source:      `unit test`,
		Target:      `integration test`,
		Confidence:  0.8,
		Description: "unit coverage lands before integration suites",
	},
}

// ruleFile is the on-disk YAML shape for custom rules.
type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadRules reads custom ordering rules from a YAML file and appends them to
// the built-in table. Custom rules with the same name override the built-in.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule file: %w", err)
	}
	var rf ruleFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parse rule file %s: %w", path, err)
	}

	merged := make([]Rule, 0, len(builtinRules)+len(rf.Rules))
	overridden := make(map[string]bool, len(rf.Rules))
	for _, r := range rf.Rules {
		overridden[r.Name] = true
	}
	for _, r := range builtinRules {
		if !overridden[r.Name] {
			merged = append(merged, r)
		}
	}
	merged = append(merged, rf.Rules...)

	if err := compileRules(merged); err != nil {
		return nil, err
	}
	return merged, nil
}

// compileRules compiles the regexps, defaults types, and range-checks
// confidences.
func compileRules(rules []Rule) error {
	for i := range rules {
		r := &rules[i]
		if r.Name == "" {
			return fmt.Errorf("rule %d has no name", i)
		}
		if r.Type == "" {
			r.Type = models.DependencyLogical
		}
		if !r.Type.Valid() {
			return fmt.Errorf("rule %s has unknown type %q", r.Name, r.Type)
		}
		if r.Confidence < 0 || r.Confidence > 1 {
			return fmt.Errorf("rule %s confidence %v out of range", r.Name, r.Confidence)
		}
		src, err := regexp.Compile(`(?i)` + r.Source)
		if err != nil {
			return fmt.Errorf("rule %s source pattern: %w", r.Name, err)
		}
		tgt, err := regexp.Compile(`(?i)` + r.Target)
		if err != nil {
			return fmt.Errorf("rule %s target pattern: %w", r.Name, err)
		}
		r.source, r.target = src, tgt
	}
	return nil
}

// matchesSource reports whether the task text matches the rule's source side.
func (r *Rule) matchesSource(t *models.Task) bool {
	return r.source.MatchString(t.Title) || r.source.MatchString(t.Description)
}

// matchesTarget reports whether the task text matches the rule's target side.
func (r *Rule) matchesTarget(t *models.Task) bool {
	return r.target.MatchString(t.Title) || r.target.MatchString(t.Description)
}
