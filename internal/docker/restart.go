package docker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"

	"github.com/ivan-cavero/Ignis/internal/domain"
)

const (
	// ComponentLabel marks containers belonging to a deployable component.
	ComponentLabel = "ignis.component"
	// EnvironmentLabel optionally narrows a container to one environment.
	EnvironmentLabel = "ignis.environment"

	defaultStopTimeout = 30
)

// RestartAction deploys a component by restarting its labelled containers.
type RestartAction struct {
	client      *Client
	stopTimeout int
	logger      *slog.Logger
}

// NewRestartAction returns an action restarting containers through c.
// stopTimeout is the grace period in seconds before a container is killed.
func NewRestartAction(c *Client, stopTimeout int, logger *slog.Logger) *RestartAction {
	if stopTimeout <= 0 {
		stopTimeout = defaultStopTimeout
	}
	return &RestartAction{client: c, stopTimeout: stopTimeout, logger: logger}
}

// Deploy restarts every container labelled with component. Containers that
// carry an environment label are only restarted for that environment.
func (a *RestartAction) Deploy(ctx context.Context, component, environment, branch string) (string, error) {
	if a.client == nil || a.client.inner == nil {
		return "", fmt.Errorf("%w: docker client not initialized", domain.ErrDeployFailure)
	}
	list, err := a.client.inner.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", ComponentLabel+"="+component)),
	})
	if err != nil {
		return "", fmt.Errorf("%w: list containers: %w", domain.ErrDeployFailure, err)
	}
	targets := matching(list, environment)
	if len(targets) == 0 {
		return "", fmt.Errorf("%w: %w: no containers labelled %s=%s", domain.ErrDeployFailure, ErrNotFound, ComponentLabel, component)
	}

	timeout := a.stopTimeout
	var out strings.Builder
	for _, c := range targets {
		name := containerName(c)
		if err := a.client.inner.ContainerRestart(ctx, c.ID, container.StopOptions{Timeout: &timeout}); err != nil {
			if client.IsErrNotFound(err) {
				fmt.Fprintf(&out, "container %s disappeared before restart\n", name)
				continue
			}
			return out.String(), fmt.Errorf("%w: restart %s: %w", domain.ErrDeployFailure, name, err)
		}
		if a.logger != nil {
			a.logger.Info("container restarted", "component", component, "environment", environment, "branch", branch, "container", name)
		}
		fmt.Fprintf(&out, "restarted %s (%s)\n", name, shortID(c.ID))
	}
	return out.String(), nil
}

func matching(list []types.Container, environment string) []types.Container {
	out := make([]types.Container, 0, len(list))
	for _, c := range list {
		if env, ok := c.Labels[EnvironmentLabel]; ok && env != environment {
			continue
		}
		out = append(out, c)
	}
	return out
}

func containerName(c types.Container) string {
	if len(c.Names) > 0 {
		return strings.TrimPrefix(c.Names[0], "/")
	}
	return shortID(c.ID)
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
