package docker

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"

	"github.com/ivan-cavero/Ignis/internal/domain"
)

type fakeEngine struct {
	containers []types.Container
	listOpts   container.ListOptions
	restarted  []string
	timeouts   []int
	restartErr error
}

func (f *fakeEngine) Ping(context.Context) (types.Ping, error) {
	return types.Ping{APIVersion: "1.45"}, nil
}

func (f *fakeEngine) ContainerList(_ context.Context, opts container.ListOptions) ([]types.Container, error) {
	f.listOpts = opts
	return f.containers, nil
}

func (f *fakeEngine) ContainerRestart(_ context.Context, id string, opts container.StopOptions) error {
	if f.restartErr != nil {
		return f.restartErr
	}
	f.restarted = append(f.restarted, id)
	if opts.Timeout != nil {
		f.timeouts = append(f.timeouts, *opts.Timeout)
	}
	return nil
}

func (f *fakeEngine) Close() error { return nil }

func TestRestartActionRestartsLabelledContainers(t *testing.T) {
	engine := &fakeEngine{containers: []types.Container{
		{ID: "aaaaaaaaaaaaaaaa", Names: []string{"/backend-1"}, Labels: map[string]string{ComponentLabel: "backend"}},
		{ID: "bbbbbbbbbbbbbbbb", Names: []string{"/backend-staging"}, Labels: map[string]string{ComponentLabel: "backend", EnvironmentLabel: "staging"}},
		{ID: "cccccccccccccccc", Names: []string{"/backend-prod"}, Labels: map[string]string{ComponentLabel: "backend", EnvironmentLabel: "production"}},
	}}
	action := NewRestartAction(&Client{inner: engine}, 10, nil)

	out, err := action.Deploy(context.Background(), "backend", "production", "main")
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if want := []string{"aaaaaaaaaaaaaaaa", "cccccccccccccccc"}; !reflect.DeepEqual(engine.restarted, want) {
		t.Fatalf("restarted = %v, want %v", engine.restarted, want)
	}
	if engine.timeouts[0] != 10 {
		t.Fatalf("stop timeout = %d", engine.timeouts[0])
	}
	if got := engine.listOpts.Filters.Get("label"); len(got) != 1 || got[0] != "ignis.component=backend" {
		t.Fatalf("unexpected label filter %v", got)
	}
	if !strings.Contains(out, "restarted backend-prod (cccccccccccc)") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestRestartActionFailsWithoutContainers(t *testing.T) {
	action := NewRestartAction(&Client{inner: &fakeEngine{}}, 0, nil)
	_, err := action.Deploy(context.Background(), "proxy", "production", "main")
	if !errors.Is(err, domain.ErrDeployFailure) || !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found deploy failure, got %v", err)
	}
}

func TestRestartActionPropagatesRestartError(t *testing.T) {
	engine := &fakeEngine{
		containers: []types.Container{{ID: "abc", Labels: map[string]string{ComponentLabel: "proxy"}}},
		restartErr: errors.New("daemon unavailable"),
	}
	action := NewRestartAction(&Client{inner: engine}, 0, nil)
	if _, err := action.Deploy(context.Background(), "proxy", "production", "main"); !errors.Is(err, domain.ErrDeployFailure) {
		t.Fatalf("expected deploy failure, got %v", err)
	}
}

func TestClientPing(t *testing.T) {
	c := &Client{inner: &fakeEngine{}}
	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
	var nilClient *Client
	if err := nilClient.Ping(context.Background()); err == nil {
		t.Fatalf("expected error for nil client")
	}
}
