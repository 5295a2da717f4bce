package domain

// NoopComponent marks rules whose matches never deploy anything, such as
// documentation.
const NoopComponent = "none"

// ComponentRule maps a path prefix to a deployable component.
type ComponentRule struct {
	Pattern      string   `json:"pattern" yaml:"pattern"`
	Component    string   `json:"component" yaml:"component"`
	Priority     int      `json:"priority" yaml:"priority"`
	Dependencies []string `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	Halts        bool     `json:"halts,omitempty" yaml:"halts,omitempty"`
}

// IsNoop reports whether the rule maps to the no-op component.
func (r ComponentRule) IsNoop() bool {
	return r.Component == NoopComponent
}

// PlanStep is one component of a DeploymentPlan.
type PlanStep struct {
	Component string `json:"component"`
	Priority  int    `json:"priority"`
	Halting   bool   `json:"halting,omitempty"`
}

// DeploymentPlan is the ordered, duplicate-free list of components to deploy.
type DeploymentPlan struct {
	Steps []PlanStep `json:"steps"`
}

// Empty reports whether nothing needs deploying.
func (p DeploymentPlan) Empty() bool { return len(p.Steps) == 0 }

// Components returns the component names in plan order.
func (p DeploymentPlan) Components() []string {
	out := make([]string, len(p.Steps))
	for i, step := range p.Steps {
		out[i] = step.Component
	}
	return out
}
