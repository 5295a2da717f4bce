package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ivan-cavero/Ignis/internal/audit"
	"github.com/ivan-cavero/Ignis/internal/domain"
	"github.com/ivan-cavero/Ignis/pkg/logger"
)

// actionDrainTimeout bounds how long Shutdown waits for cancelled actions to
// exit after the active run has been cancelled.
const actionDrainTimeout = 15 * time.Second

// Notifier receives finalized runs.
type Notifier interface {
	NotifyRun(ctx context.Context, run domain.DeploymentRun)
}

// Request describes an accepted event ready to deploy.
type Request struct {
	Branch      string
	Environment string
	Repository  string
	Pusher      string
	Plan        domain.DeploymentPlan
}

// Coordinator executes deployment plans one run at a time.
type Coordinator struct {
	gate     sync.Mutex
	running  atomic.Bool
	executor *Executor
	audit    *audit.Logger
	logger   *slog.Logger
	metrics  *Metrics
	notifier Notifier
	now      func() time.Time
	wg       sync.WaitGroup

	// base is cancelled by Shutdown; runs derive their context from it.
	base   context.Context
	stop   context.CancelFunc
	mu     sync.Mutex
	closed bool
	runs   sync.WaitGroup
}

// Option customises a Coordinator.
type Option func(*Coordinator)

// WithMetrics records run outcomes on m.
func WithMetrics(m *Metrics) Option { return func(c *Coordinator) { c.metrics = m } }

// WithNotifier sends finalized runs to n.
func WithNotifier(n Notifier) Option { return func(c *Coordinator) { c.notifier = n } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(c *Coordinator) { c.now = now } }

// NewCoordinator constructs a Coordinator around executor.
func NewCoordinator(executor *Executor, auditLog *audit.Logger, log *slog.Logger, opts ...Option) *Coordinator {
	if log == nil {
		log = logger.Discard()
	}
	if auditLog == nil {
		auditLog = audit.Discard()
	}
	base, stop := context.WithCancel(context.Background())
	c := &Coordinator{
		executor: executor,
		audit:    auditLog,
		logger:   log,
		now:      time.Now,
		base:     base,
		stop:     stop,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Running reports whether a run is executing.
func (c *Coordinator) Running() bool { return c.running.Load() }

// Run executes req.Plan in order. It returns ErrRunInProgress immediately when
// another run holds the gate and ErrShuttingDown after Shutdown. Deployment
// failures are reported on the returned run and as ErrDeployFailure or
// ErrHaltingFailure.
//
// The caller's cancellation is ignored: deploys stop only at their own timeout
// or when Shutdown gives up waiting.
func (c *Coordinator) Run(ctx context.Context, req Request) (domain.DeploymentRun, error) {
	if req.Plan.Empty() {
		return domain.DeploymentRun{}, domain.ErrNoComponentsAffected
	}
	if !c.admit() {
		c.audit.Warning("deployment rejected: dispatcher shutting down", "branch", req.Branch)
		return domain.DeploymentRun{}, domain.ErrShuttingDown
	}
	defer c.runs.Done()
	if !c.gate.TryLock() {
		c.metrics.observeRejected()
		c.audit.Warning("deployment rejected: run already in progress", "branch", req.Branch)
		return domain.DeploymentRun{}, domain.ErrRunInProgress
	}
	c.running.Store(true)
	c.metrics.setActive(true)
	defer func() {
		c.running.Store(false)
		c.metrics.setActive(false)
		c.gate.Unlock()
	}()

	notifyCtx := context.WithoutCancel(ctx)
	ctx, cancel := context.WithCancel(c.base)
	defer cancel()

	run := domain.DeploymentRun{
		ID:          uuid.NewString(),
		Branch:      req.Branch,
		Environment: req.Environment,
		Repository:  req.Repository,
		Pusher:      req.Pusher,
		Plan:        req.Plan,
		Results:     make([]domain.DeploymentResult, 0, len(req.Plan.Steps)),
		StartedAt:   c.now().UTC(),
	}
	c.audit.Info("deployment run started",
		"run_id", run.ID,
		"branch", run.Branch,
		"environment", run.Environment,
		"plan", req.Plan.Components(),
	)
	c.logger.Info("deployment run started", "run_id", run.ID, "branch", run.Branch, "components", len(req.Plan.Steps))

	for i, step := range req.Plan.Steps {
		c.audit.Info("deploying component", "run_id", run.ID, "component", step.Component, "step", fmt.Sprintf("%d/%d", i+1, len(req.Plan.Steps)))
		result := c.executor.Execute(ctx, step.Component, run.Environment, run.Branch)
		run.Results = append(run.Results, result)
		c.record(run.ID, result)

		if ctx.Err() != nil && (!result.Success || i+1 < len(req.Plan.Steps)) {
			run.Interrupted = true
			c.audit.Error("deployment run interrupted by shutdown",
				"run_id", run.ID,
				"component", step.Component,
				"skipped", req.Plan.Components()[i+1:],
			)
			break
		}
		if !result.Success && step.Halting {
			run.Halted = true
			run.HaltedBy = step.Component
			skipped := req.Plan.Components()[i+1:]
			c.audit.Error("halting run after critical component failure",
				"run_id", run.ID,
				"component", step.Component,
				"skipped", skipped,
			)
			break
		}
	}

	run.FinishedAt = c.now().UTC()
	run.Success = len(run.Failed()) == 0 && !run.Interrupted
	err := c.finalize(run)

	if c.notifier != nil {
		c.wg.Add(1)
		go func(r domain.DeploymentRun) {
			defer c.wg.Done()
			c.notifier.NotifyRun(notifyCtx, r)
		}(run)
	}
	return run, err
}

func (c *Coordinator) admit() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.runs.Add(1)
	return true
}

// Shutdown stops accepting runs and waits for the active one to finish. When
// ctx expires first the run is cancelled, which kills its deploy process, and
// Shutdown returns ctx.Err() once the cancelled actions have exited. Pending
// notifications are drained before returning.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	idle := make(chan struct{})
	go func() {
		c.runs.Wait()
		close(idle)
	}()

	var err error
	select {
	case <-idle:
	case <-ctx.Done():
		err = ctx.Err()
		c.audit.Warning("cancelling active deployment run for shutdown")
		c.stop()
		<-idle
	}
	c.stop()

	drainCtx, cancel := context.WithTimeout(context.Background(), actionDrainTimeout)
	defer cancel()
	if drainErr := c.executor.Wait(drainCtx); drainErr != nil {
		c.logger.Error("deploy actions still running after shutdown", "error", drainErr)
		err = errors.Join(err, fmt.Errorf("drain deploy actions: %w", drainErr))
	}
	c.wg.Wait()
	return err
}

func (c *Coordinator) record(runID string, result domain.DeploymentResult) {
	status := "success"
	switch {
	case result.TimedOut:
		status = "timeout"
	case !result.Success:
		status = "failure"
	}
	c.metrics.observeComponent(result.Component, status, result.Duration.Seconds())

	if result.Success {
		c.audit.Success("component deployed", "run_id", runID, "component", result.Component, "duration", result.Duration)
		return
	}
	kv := []any{
		"run_id", runID,
		"component", result.Component,
		"duration", result.Duration,
		"message", result.Message,
	}
	if result.TimedOut {
		kv = append(kv, "timeout", c.executor.Timeout())
		if result.Output != "" {
			kv = append(kv, "output", result.Output)
		}
	}
	c.audit.Error("component deployment failed", kv...)
}

func (c *Coordinator) finalize(run domain.DeploymentRun) error {
	attrs := []any{
		"run_id", run.ID,
		"branch", run.Branch,
		"environment", run.Environment,
		"attempted", len(run.Results),
		"planned", len(run.Plan.Steps),
		"duration", run.Duration(),
	}
	switch {
	case run.Success:
		c.metrics.observeRun("success")
		c.audit.Success("deployment run completed", attrs...)
		c.logger.Info("deployment run completed", "run_id", run.ID, "duration_ms", run.Duration().Milliseconds())
		return nil
	case run.Interrupted:
		c.metrics.observeRun("interrupted")
		c.audit.Error("deployment run interrupted", attrs...)
		c.logger.Error("deployment run interrupted", "run_id", run.ID)
		return fmt.Errorf("%w: run %s interrupted", domain.ErrShuttingDown, run.ID)
	case run.Halted:
		c.metrics.observeRun("halted")
		c.audit.Error("deployment run halted", append(attrs, "halted_by", run.HaltedBy)...)
		c.logger.Error("deployment run halted", "run_id", run.ID, "halted_by", run.HaltedBy)
		return fmt.Errorf("%w: %s", domain.ErrHaltingFailure, run.HaltedBy)
	default:
		failed := make([]string, 0, len(run.Failed()))
		for _, r := range run.Failed() {
			failed = append(failed, r.Component)
		}
		c.metrics.observeRun("failed")
		c.audit.Error("deployment run failed", append(attrs, "failed", failed)...)
		c.logger.Error("deployment run failed", "run_id", run.ID, "failed", failed)
		return fmt.Errorf("%w: %d of %d components failed", domain.ErrDeployFailure, len(failed), len(run.Results))
	}
}
