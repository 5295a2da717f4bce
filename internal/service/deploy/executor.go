package deploy

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ivan-cavero/Ignis/internal/domain"
	"github.com/ivan-cavero/Ignis/pkg/logger"
)

// TimedOutMessage is the result message of a deploy that hit its deadline.
const TimedOutMessage = "timed out"

// Executor deploys single components through an Action under a hard timeout.
type Executor struct {
	action   Action
	timeout  time.Duration
	logger   *slog.Logger
	inflight sync.WaitGroup
}

// NewExecutor wraps action. A non-positive timeout disables the deadline.
func NewExecutor(action Action, timeout time.Duration, log *slog.Logger) *Executor {
	if log == nil {
		log = logger.Discard()
	}
	return &Executor{action: action, timeout: timeout, logger: log}
}

// Timeout returns the per-component deadline.
func (e *Executor) Timeout() time.Duration { return e.timeout }

type outcome struct {
	output string
	err    error
}

// Execute deploys component and reports the outcome. It returns no later than
// the timeout, even when the action ignores cancellation.
func (e *Executor) Execute(ctx context.Context, component, environment, branch string) domain.DeploymentResult {
	start := time.Now()
	runCtx, cancel := e.deadline(ctx)
	defer cancel()

	done := make(chan outcome, 1)
	e.inflight.Add(1)
	go func() {
		defer e.inflight.Done()
		out, err := e.action.Deploy(runCtx, component, environment, branch)
		done <- outcome{output: out, err: err}
	}()

	var res outcome
	select {
	case res = <-done:
	case <-runCtx.Done():
		res = outcome{err: runCtx.Err()}
	}

	result := domain.DeploymentResult{
		Component: component,
		Output:    strings.TrimSpace(res.output),
		Duration:  time.Since(start),
	}
	switch {
	case res.err == nil:
		result.Success = true
		result.Message = summarize(res.output, "deployed")
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		result.TimedOut = true
		result.Message = TimedOutMessage
		e.logger.Warn("component deploy timed out", "component", component, "timeout", e.timeout.String(), "output", result.Output)
	default:
		result.Message = failureMessage(res.output, res.err)
		e.logger.Warn("component deploy failed", "component", component, "error", res.err)
	}
	return result
}

// Wait blocks until every action started by Execute has returned, including
// actions abandoned at their deadline, or until ctx is done.
func (e *Executor) Wait(ctx context.Context) error {
	idle := make(chan struct{})
	go func() {
		e.inflight.Wait()
		close(idle)
	}()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Executor) deadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.timeout)
}

func summarize(output, fallback string) string {
	if out := strings.TrimSpace(output); out != "" {
		return out
	}
	return fallback
}

func failureMessage(output string, err error) string {
	out := strings.TrimSpace(output)
	if err == nil {
		return summarize(out, "deployment failed")
	}
	if out == "" {
		return err.Error()
	}
	return out + "\n" + err.Error()
}
