package deploy

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ivan-cavero/Ignis/internal/audit"
	"github.com/ivan-cavero/Ignis/internal/domain"
)

type scriptedAction struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]bool
	block chan struct{}
}

func (a *scriptedAction) Deploy(ctx context.Context, component, environment, branch string) (string, error) {
	a.mu.Lock()
	a.calls = append(a.calls, component)
	a.mu.Unlock()
	if a.block != nil {
		<-a.block
	}
	if a.fail[component] {
		return "boom", errors.New("exit status 1")
	}
	return "done", nil
}

func (a *scriptedAction) called() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.calls...)
}

type captureNotifier struct {
	mu   sync.Mutex
	runs []domain.DeploymentRun
}

func (n *captureNotifier) NotifyRun(_ context.Context, run domain.DeploymentRun) {
	n.mu.Lock()
	n.runs = append(n.runs, run)
	n.mu.Unlock()
}

func plan(steps ...domain.PlanStep) domain.DeploymentPlan {
	return domain.DeploymentPlan{Steps: steps}
}

func newCoordinator(action Action, opts ...Option) (*Coordinator, *bytes.Buffer) {
	var console bytes.Buffer
	auditLog := audit.New(audit.Options{Console: &console}, nil)
	return NewCoordinator(NewExecutor(action, time.Second, nil), auditLog, nil, opts...), &console
}

func TestCoordinatorRunsInPlanOrder(t *testing.T) {
	action := &scriptedAction{}
	coord, console := newCoordinator(action)

	run, err := coord.Run(context.Background(), Request{
		Branch:      "main",
		Environment: "production",
		Plan:        plan(domain.PlanStep{Component: "proxy"}, domain.PlanStep{Component: "backend"}, domain.PlanStep{Component: "user-frontend"}),
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	want := []string{"proxy", "backend", "user-frontend"}
	if got := action.called(); !reflect.DeepEqual(got, want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
	if !run.Success || run.Halted || len(run.Results) != 3 || run.ID == "" {
		t.Fatalf("unexpected run %+v", run)
	}
	if run.FinishedAt.Before(run.StartedAt) {
		t.Fatalf("finished before started")
	}
	if !strings.Contains(console.String(), "[SUCCESS] deployment run completed") {
		t.Fatalf("audit log missing completion: %s", console.String())
	}
}

func TestCoordinatorHaltsOnCriticalFailure(t *testing.T) {
	action := &scriptedAction{fail: map[string]bool{"infrastructure": true}}
	coord, _ := newCoordinator(action)

	run, err := coord.Run(context.Background(), Request{
		Branch: "main",
		Plan: plan(
			domain.PlanStep{Component: "infrastructure", Halting: true},
			domain.PlanStep{Component: "proxy"},
			domain.PlanStep{Component: "backend"},
		),
	})
	if !errors.Is(err, domain.ErrHaltingFailure) {
		t.Fatalf("expected halting failure, got %v", err)
	}
	if got := action.called(); !reflect.DeepEqual(got, []string{"infrastructure"}) {
		t.Fatalf("components after halt were attempted: %v", got)
	}
	if !run.Halted || run.HaltedBy != "infrastructure" || run.Success || len(run.Results) != 1 {
		t.Fatalf("unexpected run %+v", run)
	}
}

func TestCoordinatorContinuesAfterOrdinaryFailure(t *testing.T) {
	action := &scriptedAction{fail: map[string]bool{"proxy": true}}
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	coord, _ := newCoordinator(action, WithMetrics(metrics))

	run, err := coord.Run(context.Background(), Request{
		Branch: "dev",
		Plan:   plan(domain.PlanStep{Component: "proxy"}, domain.PlanStep{Component: "backend"}),
	})
	if !errors.Is(err, domain.ErrDeployFailure) {
		t.Fatalf("expected deploy failure, got %v", err)
	}
	if got := action.called(); !reflect.DeepEqual(got, []string{"proxy", "backend"}) {
		t.Fatalf("calls = %v", got)
	}
	if run.Success || run.Halted || !run.Results[1].Success {
		t.Fatalf("unexpected run %+v", run)
	}
	if got := testutil.ToFloat64(metrics.runs.WithLabelValues("failed")); got != 1 {
		t.Fatalf("failed runs metric = %v", got)
	}
	if got := testutil.ToFloat64(metrics.components.WithLabelValues("proxy", "failure")); got != 1 {
		t.Fatalf("proxy failure metric = %v", got)
	}
}

func TestCoordinatorRejectsConcurrentRun(t *testing.T) {
	action := &scriptedAction{block: make(chan struct{})}
	coord, _ := newCoordinator(action)
	req := Request{Branch: "main", Plan: plan(domain.PlanStep{Component: "backend"})}

	done := make(chan error, 1)
	go func() {
		_, err := coord.Run(context.Background(), req)
		done <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !coord.Running() {
		if time.Now().After(deadline) {
			t.Fatalf("first run never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, err := coord.Run(context.Background(), req); !errors.Is(err, domain.ErrRunInProgress) {
		t.Fatalf("expected run in progress, got %v", err)
	}
	close(action.block)
	if err := <-done; err != nil {
		t.Fatalf("first run: %v", err)
	}
	if coord.Running() {
		t.Fatalf("gate not released")
	}
	if len(action.called()) != 1 {
		t.Fatalf("second run must not execute, calls %v", action.called())
	}
}

func TestCoordinatorEmptyPlan(t *testing.T) {
	coord, _ := newCoordinator(&scriptedAction{})
	if _, err := coord.Run(context.Background(), Request{Branch: "main"}); !errors.Is(err, domain.ErrNoComponentsAffected) {
		t.Fatalf("expected no components error, got %v", err)
	}
}

func TestCoordinatorNotifiesAfterRun(t *testing.T) {
	notifier := &captureNotifier{}
	coord, _ := newCoordinator(&scriptedAction{}, WithNotifier(notifier))

	run, err := coord.Run(context.Background(), Request{Branch: "main", Plan: plan(domain.PlanStep{Component: "backend"})})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := coord.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if len(notifier.runs) != 1 || notifier.runs[0].ID != run.ID {
		t.Fatalf("expected notification for run %s, got %+v", run.ID, notifier.runs)
	}
}

func TestCoordinatorIgnoresCallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	coord, _ := newCoordinator(ActionFunc(func(ctx context.Context, component, _, _ string) (string, error) {
		cancel()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(20 * time.Millisecond):
			return "ok", nil
		}
	}))
	run, err := coord.Run(ctx, Request{Branch: "main", Plan: plan(domain.PlanStep{Component: "backend"})})
	if err != nil || !run.Success {
		t.Fatalf("run should survive caller cancellation: %v %+v", err, run)
	}
}

func waitRunning(t *testing.T, coord *Coordinator) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !coord.Running() {
		if time.Now().After(deadline) {
			t.Fatalf("run never started")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCoordinatorShutdownWaitsForActiveRun(t *testing.T) {
	action := &scriptedAction{block: make(chan struct{})}
	coord, _ := newCoordinator(action)
	req := Request{Branch: "main", Plan: plan(domain.PlanStep{Component: "backend"})}

	type outcome struct {
		run domain.DeploymentRun
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		run, err := coord.Run(context.Background(), req)
		done <- outcome{run, err}
	}()
	waitRunning(t, coord)

	stopped := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		stopped <- coord.Shutdown(ctx)
	}()

	select {
	case err := <-stopped:
		t.Fatalf("shutdown returned while a run was active: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	close(action.block)
	if err := <-stopped; err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	res := <-done
	if res.err != nil || !res.run.Success || res.run.Interrupted {
		t.Fatalf("active run should complete normally: %v %+v", res.err, res.run)
	}
	if _, err := coord.Run(context.Background(), req); !errors.Is(err, domain.ErrShuttingDown) {
		t.Fatalf("expected ErrShuttingDown after shutdown, got %v", err)
	}
}
