// Package notify delivers finished run summaries to an external endpoint.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ivan-cavero/Ignis/internal/domain"
	"github.com/ivan-cavero/Ignis/pkg/logger"
)

const (
	defaultTimeout   = 10 * time.Second
	maxErrorBodySize = 4096
)

// ErrRejected indicates the callback endpoint answered with a client error.
var ErrRejected = errors.New("run callback rejected")

// Callback posts a JSON summary of every finished run.
type Callback struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewCallback creates a callback targeting url.
func NewCallback(url string, timeout time.Duration, client *http.Client, log *slog.Logger) (*Callback, error) {
	trimmed := strings.TrimSpace(url)
	if trimmed == "" {
		return nil, errors.New("run callback url required")
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if client == nil {
		client = &http.Client{Timeout: timeout}
	} else if client.Timeout == 0 {
		client.Timeout = timeout
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Callback{url: trimmed, client: client, logger: log}, nil
}

// NotifyRun sends run and logs any failure. It never returns an error so a
// broken endpoint cannot affect deployments.
func (c *Callback) NotifyRun(ctx context.Context, run domain.DeploymentRun) {
	if err := c.Send(ctx, run); err != nil {
		c.logger.Warn("run callback failed", "run_id", run.ID, "error", err)
		return
	}
	c.logger.Debug("run callback delivered", "run_id", run.ID)
}

// Send posts the summary and reports delivery errors.
func (c *Callback) Send(ctx context.Context, run domain.DeploymentRun) error {
	body, err := json.Marshal(run.Summary())
	if err != nil {
		return fmt.Errorf("marshal run summary: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "ignis-dispatcher")
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send callback request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < http.StatusBadRequest {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	buf, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	summary := strings.TrimSpace(string(buf))
	if summary == "" {
		summary = resp.Status
	}
	if resp.StatusCode < http.StatusInternalServerError {
		return fmt.Errorf("%w: %s", ErrRejected, summary)
	}
	return fmt.Errorf("run callback failed: %s", summary)
}
