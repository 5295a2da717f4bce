package deploy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/ivan-cavero/Ignis/internal/domain"
)

// MaxOutputBytes bounds the captured output kept for a result message.
const MaxOutputBytes = 64 << 10

const defaultWaitDelay = 5 * time.Second

// Action performs the deployment of one component.
type Action interface {
	Deploy(ctx context.Context, component, environment, branch string) (string, error)
}

// ActionFunc adapts a function to Action.
type ActionFunc func(ctx context.Context, component, environment, branch string) (string, error)

// Deploy calls f.
func (f ActionFunc) Deploy(ctx context.Context, component, environment, branch string) (string, error) {
	return f(ctx, component, environment, branch)
}

// ScriptAction runs an external program as `<path> <component> <environment> <branch>`.
type ScriptAction struct {
	Path      string
	Dir       string
	WaitDelay time.Duration
}

// NewScriptAction returns a ScriptAction for path.
func NewScriptAction(path string) ScriptAction {
	return ScriptAction{Path: path, WaitDelay: defaultWaitDelay}
}

// Deploy runs the script and returns its combined output. The script's whole
// process group is killed when ctx ends.
func (a ScriptAction) Deploy(ctx context.Context, component, environment, branch string) (string, error) {
	if strings.TrimSpace(a.Path) == "" {
		return "", fmt.Errorf("%w: deploy script not configured", domain.ErrDeployFailure)
	}
	cmd := exec.CommandContext(ctx, a.Path, component, environment, branch)
	cmd.Dir = a.Dir
	cmd.Env = append(os.Environ(),
		"IGNIS_COMPONENT="+component,
		"IGNIS_ENVIRONMENT="+environment,
		"IGNIS_BRANCH="+branch,
	)
	isolateProcessGroup(cmd)
	cmd.WaitDelay = a.WaitDelay
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = defaultWaitDelay
	}

	out := &tailBuffer{limit: MaxOutputBytes}
	cmd.Stdout = out
	cmd.Stderr = out

	err := cmd.Run()
	output := out.String()
	if err == nil {
		return output, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return output, fmt.Errorf("%w: %w", domain.ErrDeployTimeout, ctxErr)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return output, fmt.Errorf("%w: exit status %d", domain.ErrDeployFailure, exitErr.ExitCode())
	}
	return output, fmt.Errorf("%w: %w", domain.ErrDeployFailure, err)
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu        sync.Mutex
	buf       []byte
	limit     int
	truncated bool
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
		b.truncated = true
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.truncated {
		return "[output truncated]\n" + string(b.buf)
	}
	return string(b.buf)
}
