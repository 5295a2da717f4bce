package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client provides typed access to a running dispatcher for interactive tools.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// New constructs a Client pointing at the provided dispatcher base URL.
func New(base string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = "http://localhost:3333"
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid dispatcher url: %w", err)
	}
	cli := &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Minute},
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

// BaseURL returns the normalised dispatcher URL.
func (c *Client) BaseURL() string { return c.baseURL }

// APIError represents an error response from the dispatcher.
type APIError struct {
	Status  int
	Message string
}

func (e APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("request failed with status %d", e.Status)
	}
	return fmt.Sprintf("request failed (%d): %s", e.Status, e.Message)
}

func extractError(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return strings.TrimSpace(string(data))
	}
	return strings.TrimSpace(payload.Error)
}

// Health mirrors the GET /health payload.
type Health struct {
	Status        string    `json:"status"`
	Timestamp     time.Time `json:"timestamp"`
	Uptime        float64   `json:"uptime"`
	UptimeHuman   string    `json:"uptime_human"`
	RunInProgress bool      `json:"run_in_progress"`
}

// Health fetches dispatcher liveness.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var out Health
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return out, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return out, fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return out, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return out, APIError{Status: resp.StatusCode, Message: extractError(data)}
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("decode response: %w", err)
	}
	return out, nil
}

// ComponentResult is one entry of a run's results.
type ComponentResult struct {
	Component  string `json:"component"`
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	DurationMS int64  `json:"duration_ms"`
	TimedOut   bool   `json:"timed_out,omitempty"`
}

// TriggerResult is the webhook response. Runs that deployed but failed are
// returned as results, not errors; inspect Succeeded.
type TriggerResult struct {
	StatusCode  int               `json:"-"`
	Status      string            `json:"status"`
	Message     string            `json:"message,omitempty"`
	Branch      string            `json:"branch,omitempty"`
	Environment string            `json:"environment,omitempty"`
	RunID       string            `json:"run_id,omitempty"`
	Plan        []string          `json:"plan,omitempty"`
	Results     []ComponentResult `json:"results,omitempty"`
	Halted      bool              `json:"halted,omitempty"`
	HaltedBy    string            `json:"halted_by,omitempty"`
	DurationMS  int64             `json:"duration_ms,omitempty"`
}

// Succeeded reports whether the dispatcher answered 200.
func (r TriggerResult) Succeeded() bool { return r.StatusCode == http.StatusOK }

// TriggerOptions sets optional delivery headers.
type TriggerOptions struct {
	Event      string
	DeliveryID string
}

// Trigger posts a pre-signed webhook body.
func (c *Client) Trigger(ctx context.Context, body []byte, signature string, opts TriggerOptions) (TriggerResult, error) {
	var out TriggerResult
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/webhook", bytes.NewReader(body))
	if err != nil {
		return out, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Signature-256", signature)
	if opts.Event != "" {
		req.Header.Set("X-GitHub-Event", opts.Event)
	}
	if opts.DeliveryID != "" {
		req.Header.Set("X-GitHub-Delivery", opts.DeliveryID)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return out, fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return out, fmt.Errorf("read response: %w", err)
	}
	switch resp.StatusCode {
	case http.StatusOK, http.StatusInternalServerError:
		if err := json.Unmarshal(data, &out); err != nil || out.Status == "" {
			return out, APIError{Status: resp.StatusCode, Message: extractError(data)}
		}
		out.StatusCode = resp.StatusCode
		return out, nil
	default:
		return out, APIError{Status: resp.StatusCode, Message: extractError(data)}
	}
}

// PushEvent is the minimal push payload the dispatcher understands.
type PushEvent struct {
	Ref        string       `json:"ref"`
	Commits    []PushCommit `json:"commits"`
	Repository struct {
		Name string `json:"name,omitempty"`
	} `json:"repository"`
	Pusher struct {
		Name string `json:"name,omitempty"`
	} `json:"pusher"`
}

// PushCommit lists the paths of a synthetic commit.
type PushCommit struct {
	ID       string   `json:"id"`
	Message  string   `json:"message"`
	Modified []string `json:"modified"`
}

// BuildPush encodes a push of paths to branch as a single modified-files commit.
func BuildPush(branch, repository, pusher string, paths []string) ([]byte, error) {
	branch = strings.TrimSpace(branch)
	if branch == "" {
		return nil, fmt.Errorf("branch is required")
	}
	if !strings.HasPrefix(branch, "refs/") {
		branch = "refs/heads/" + branch
	}
	event := PushEvent{
		Ref: branch,
		Commits: []PushCommit{{
			ID:       "manual",
			Message:  "manual trigger",
			Modified: append([]string{}, paths...),
		}},
	}
	event.Repository.Name = repository
	event.Pusher.Name = pusher
	return json.Marshal(event)
}
