package resolve

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ivan-cavero/Ignis/internal/domain"
)

// DefaultRules is the built-in component table. Order matters: it is the
// tie-break for components of equal priority.
func DefaultRules() []domain.ComponentRule {
	return []domain.ComponentRule{
		{Pattern: "infrastructure/", Component: "infrastructure", Priority: 100, Halts: true},
		{Pattern: "docker-compose", Component: "infrastructure", Priority: 100, Halts: true},
		{Pattern: "proxy/", Component: "proxy", Priority: 90},
		{Pattern: "shared/", Component: "backend", Priority: 70, Dependencies: []string{"user-frontend", "admin-frontend"}},
		{Pattern: "backend/", Component: "backend", Priority: 60},
		{Pattern: "frontend/user/", Component: "user-frontend", Priority: 40},
		{Pattern: "frontend/admin/", Component: "admin-frontend", Priority: 40},
		{Pattern: "scripts/", Component: domain.NoopComponent},
		{Pattern: "docs/", Component: domain.NoopComponent},
		{Pattern: "README", Component: domain.NoopComponent},
	}
}

type rulesFile struct {
	Rules []domain.ComponentRule `yaml:"rules"`
}

// LoadRules reads a YAML rule table from path.
func LoadRules(path string) ([]domain.ComponentRule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	return ParseRules(raw)
}

// ParseRules decodes and validates a YAML rule table.
func ParseRules(raw []byte) ([]domain.ComponentRule, error) {
	var file rulesFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("decode rules: %w", err)
	}
	if len(file.Rules) == 0 {
		return nil, errors.New("rules file defines no rules")
	}
	rules := make([]domain.ComponentRule, len(file.Rules))
	for i, r := range file.Rules {
		r.Pattern = strings.TrimSpace(r.Pattern)
		r.Component = strings.TrimSpace(r.Component)
		deps := make([]string, 0, len(r.Dependencies))
		for _, d := range r.Dependencies {
			if d = strings.TrimSpace(d); d != "" {
				deps = append(deps, d)
			}
		}
		r.Dependencies = deps
		rules[i] = r
	}
	if err := ValidateRules(rules); err != nil {
		return nil, err
	}
	return rules, nil
}

// ValidateRules checks a rule table for structural mistakes.
func ValidateRules(rules []domain.ComponentRule) error {
	var problems []error
	for i, r := range rules {
		switch {
		case r.Pattern == "":
			problems = append(problems, fmt.Errorf("rule %d: pattern is required", i))
		case r.Component == "":
			problems = append(problems, fmt.Errorf("rule %d (%s): component is required", i, r.Pattern))
		case r.Priority < 0:
			problems = append(problems, fmt.Errorf("rule %d (%s): priority must not be negative", i, r.Pattern))
		case r.IsNoop() && (len(r.Dependencies) > 0 || r.Halts):
			problems = append(problems, fmt.Errorf("rule %d (%s): no-op rules cannot declare dependencies or halt", i, r.Pattern))
		}
	}
	return errors.Join(problems...)
}
