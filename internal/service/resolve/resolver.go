package resolve

import (
	"sort"
	"strings"

	"github.com/ivan-cavero/Ignis/internal/domain"
)

// Resolver maps change sets to deployment plans using an ordered rule table.
type Resolver struct {
	rules   []domain.ComponentRule
	ceiling map[string]int
	halting map[string]bool
}

// New builds a resolver over rules. extraHalting names components whose
// failure halts a run in addition to rules flagged with Halts.
func New(rules []domain.ComponentRule, extraHalting ...string) *Resolver {
	copied := make([]domain.ComponentRule, len(rules))
	for i, r := range rules {
		r.Dependencies = append([]string(nil), r.Dependencies...)
		copied[i] = r
	}
	ceiling := make(map[string]int)
	halting := make(map[string]bool)
	for _, r := range copied {
		if r.IsNoop() {
			continue
		}
		if p, ok := ceiling[r.Component]; !ok || r.Priority > p {
			ceiling[r.Component] = r.Priority
		}
		if r.Halts {
			halting[r.Component] = true
		}
	}
	for _, name := range extraHalting {
		if name = strings.TrimSpace(name); name != "" && name != domain.NoopComponent {
			halting[name] = true
		}
	}
	return &Resolver{rules: copied, ceiling: ceiling, halting: halting}
}

// Rules returns a copy of the rule table.
func (r *Resolver) Rules() []domain.ComponentRule {
	out := make([]domain.ComponentRule, len(r.rules))
	copy(out, r.rules)
	return out
}

// IsHalting reports whether a failure of component stops the run.
func (r *Resolver) IsHalting(component string) bool {
	return r.halting[component]
}

type candidate struct {
	name     string
	priority int
	seen     int
}

// Resolve computes the deployment plan for set. The result does not depend
// on the iteration order of set.
func (r *Resolver) Resolve(set domain.ChangeSet) domain.DeploymentPlan {
	byName := make(map[string]*candidate)
	var order []*candidate

	contribute := func(name string, priority int) {
		if name == "" || name == domain.NoopComponent {
			return
		}
		if c, ok := byName[name]; ok {
			if priority > c.priority {
				c.priority = priority
			}
			return
		}
		c := &candidate{name: name, priority: priority, seen: len(order)}
		byName[name] = c
		order = append(order, c)
	}

	for _, rule := range r.rules {
		if !r.matches(rule, set) || rule.IsNoop() {
			continue
		}
		contribute(rule.Component, rule.Priority)
		for _, dep := range rule.Dependencies {
			contribute(dep, r.dependencyPriority(dep, rule))
		}
	}

	sort.SliceStable(order, func(i, j int) bool {
		if order[i].priority != order[j].priority {
			return order[i].priority > order[j].priority
		}
		return order[i].seen < order[j].seen
	})

	steps := make([]domain.PlanStep, 0, len(order))
	for _, c := range order {
		steps = append(steps, domain.PlanStep{
			Component: c.name,
			Priority:  c.priority,
			Halting:   r.halting[c.name],
		})
	}
	return domain.DeploymentPlan{Steps: steps}
}

// dependencyPriority ranks a dependency by its own rules when it has any,
// otherwise by the rule that pulled it in.
func (r *Resolver) dependencyPriority(dep string, declaring domain.ComponentRule) int {
	if p, ok := r.ceiling[dep]; ok {
		return p
	}
	return declaring.Priority
}

func (r *Resolver) matches(rule domain.ComponentRule, set domain.ChangeSet) bool {
	for path := range set {
		if strings.HasPrefix(path, rule.Pattern) {
			return true
		}
	}
	return false
}
