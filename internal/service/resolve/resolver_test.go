package resolve

import (
	"reflect"
	"testing"

	"github.com/ivan-cavero/Ignis/internal/domain"
)

func TestResolveDocumentationOnlyIsEmpty(t *testing.T) {
	plan := New(DefaultRules()).Resolve(domain.NewChangeSet("docs/readme.md"))
	if !plan.Empty() {
		t.Fatalf("expected empty plan, got %v", plan.Components())
	}
}

func TestResolveEmptyChangeSet(t *testing.T) {
	plan := New(DefaultRules()).Resolve(domain.NewChangeSet())
	if !plan.Empty() {
		t.Fatalf("expected empty plan, got %v", plan.Components())
	}
}

func TestResolveSharedExpandsDependencies(t *testing.T) {
	plan := New(DefaultRules()).Resolve(domain.NewChangeSet("shared/types.ts"))
	want := []string{"backend", "user-frontend", "admin-frontend"}
	if got := plan.Components(); !reflect.DeepEqual(got, want) {
		t.Fatalf("plan = %v, want %v", got, want)
	}
	if plan.Steps[0].Priority != 70 || plan.Steps[1].Priority != 40 {
		t.Fatalf("unexpected priorities %+v", plan.Steps)
	}
}

func TestResolveOrdersByPriorityAndDeduplicates(t *testing.T) {
	set := domain.NewChangeSet(
		"frontend/admin/index.tsx",
		"backend/server.go",
		"proxy/Caddyfile",
		"infrastructure/compose.yml",
		"docker-compose.yml",
		"backend/handlers.go",
		"README.md",
	)
	plan := New(DefaultRules()).Resolve(set)
	want := []string{"infrastructure", "proxy", "backend", "admin-frontend"}
	if got := plan.Components(); !reflect.DeepEqual(got, want) {
		t.Fatalf("plan = %v, want %v", got, want)
	}
	if !plan.Steps[0].Halting {
		t.Fatalf("infrastructure should be flagged halting")
	}
	for _, step := range plan.Steps[1:] {
		if step.Halting {
			t.Fatalf("%s should not be halting", step.Component)
		}
	}
}

func TestResolveComponentTakesHighestMatchedPriority(t *testing.T) {
	set := domain.NewChangeSet("backend/a.go", "shared/b.ts")
	plan := New(DefaultRules()).Resolve(set)
	if plan.Steps[0].Component != "backend" || plan.Steps[0].Priority != 70 {
		t.Fatalf("expected backend at 70 first, got %+v", plan.Steps)
	}
	if len(plan.Steps) != 3 {
		t.Fatalf("expected backend plus two frontends, got %v", plan.Components())
	}
}

func TestResolveTiesBreakByRuleOrder(t *testing.T) {
	rules := []domain.ComponentRule{
		{Pattern: "b/", Component: "beta", Priority: 10},
		{Pattern: "a/", Component: "alpha", Priority: 10},
		{Pattern: "c/", Component: "gamma", Priority: 10},
	}
	plan := New(rules).Resolve(domain.NewChangeSet("c/x", "a/x", "b/x"))
	want := []string{"beta", "alpha", "gamma"}
	if got := plan.Components(); !reflect.DeepEqual(got, want) {
		t.Fatalf("plan = %v, want %v", got, want)
	}
}

func TestResolveDependenciesAreNotTransitive(t *testing.T) {
	rules := []domain.ComponentRule{
		{Pattern: "a/", Component: "alpha", Priority: 30, Dependencies: []string{"beta"}},
		{Pattern: "b/", Component: "beta", Priority: 20, Dependencies: []string{"gamma"}},
		{Pattern: "g/", Component: "gamma", Priority: 10},
	}
	plan := New(rules).Resolve(domain.NewChangeSet("a/file"))
	want := []string{"alpha", "beta"}
	if got := plan.Components(); !reflect.DeepEqual(got, want) {
		t.Fatalf("plan = %v, want %v", got, want)
	}
}

func TestResolveUnknownDependencyInheritsDeclaringPriority(t *testing.T) {
	rules := []domain.ComponentRule{
		{Pattern: "low/", Component: "low", Priority: 5},
		{Pattern: "a/", Component: "alpha", Priority: 30, Dependencies: []string{"worker", domain.NoopComponent}},
	}
	plan := New(rules).Resolve(domain.NewChangeSet("a/x", "low/y"))
	want := []string{"alpha", "worker", "low"}
	if got := plan.Components(); !reflect.DeepEqual(got, want) {
		t.Fatalf("plan = %v, want %v", got, want)
	}
	if plan.Steps[1].Priority != 30 {
		t.Fatalf("worker priority = %d, want 30", plan.Steps[1].Priority)
	}
}

func TestResolveIsDeterministic(t *testing.T) {
	resolver := New(DefaultRules())
	paths := []string{"frontend/user/a", "shared/x", "proxy/y", "backend/z", "frontend/admin/q", "docs/w"}
	first := resolver.Resolve(domain.NewChangeSet(paths...))
	for i := 0; i < 50; i++ {
		reversed := make([]string, len(paths))
		for j := range paths {
			reversed[j] = paths[len(paths)-1-j]
		}
		got := resolver.Resolve(domain.NewChangeSet(reversed...))
		if !reflect.DeepEqual(first, got) {
			t.Fatalf("iteration %d: plan changed: %v vs %v", i, first.Components(), got.Components())
		}
	}
}

func TestExtraHaltingComponents(t *testing.T) {
	resolver := New(DefaultRules(), "proxy", " ", domain.NoopComponent)
	if !resolver.IsHalting("proxy") || !resolver.IsHalting("infrastructure") {
		t.Fatalf("expected proxy and infrastructure to be halting")
	}
	if resolver.IsHalting("backend") || resolver.IsHalting(domain.NoopComponent) {
		t.Fatalf("unexpected halting components")
	}
}
