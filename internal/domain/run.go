package domain

import "time"

// DeploymentResult records the outcome of deploying one component. Output is
// the captured action output, kept for the audit log when Message omits it.
type DeploymentResult struct {
	Component string        `json:"component"`
	Success   bool          `json:"success"`
	Message   string        `json:"message"`
	Output    string        `json:"-"`
	Duration  time.Duration `json:"-"`
	TimedOut  bool          `json:"timed_out,omitempty"`
}

// DurationMS is the elapsed time in milliseconds, used in JSON summaries.
func (r DeploymentResult) DurationMS() int64 { return r.Duration.Milliseconds() }

// DeploymentRun aggregates everything that happened for one accepted event.
type DeploymentRun struct {
	ID          string             `json:"run_id"`
	Branch      string             `json:"branch"`
	Environment string             `json:"environment"`
	Repository  string             `json:"repository,omitempty"`
	Pusher      string             `json:"pusher,omitempty"`
	Plan        DeploymentPlan     `json:"plan"`
	Results     []DeploymentResult `json:"results"`
	Halted      bool               `json:"halted"`
	HaltedBy    string             `json:"halted_by,omitempty"`
	Interrupted bool               `json:"interrupted,omitempty"`
	Success     bool               `json:"success"`
	StartedAt   time.Time          `json:"started_at"`
	FinishedAt  time.Time          `json:"finished_at"`
}

// Duration is the wall-clock time of the run.
func (r DeploymentRun) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Failed returns the results that did not succeed.
func (r DeploymentRun) Failed() []DeploymentResult {
	var out []DeploymentResult
	for _, res := range r.Results {
		if !res.Success {
			out = append(out, res)
		}
	}
	return out
}

// Summary renders the run as the JSON object returned to webhook callers and
// posted to run callbacks.
func (r DeploymentRun) Summary() map[string]any {
	results := make([]map[string]any, 0, len(r.Results))
	for _, res := range r.Results {
		item := map[string]any{
			"component":   res.Component,
			"success":     res.Success,
			"message":     res.Message,
			"duration_ms": res.DurationMS(),
		}
		if res.TimedOut {
			item["timed_out"] = true
		}
		results = append(results, item)
	}
	status := "success"
	if !r.Success {
		status = "failed"
	}
	payload := map[string]any{
		"status":      status,
		"run_id":      r.ID,
		"branch":      r.Branch,
		"environment": r.Environment,
		"plan":        r.Plan.Components(),
		"results":     results,
		"halted":      r.Halted,
		"started_at":  r.StartedAt.UTC().Format(time.RFC3339Nano),
		"finished_at": r.FinishedAt.UTC().Format(time.RFC3339Nano),
		"duration_ms": r.Duration().Milliseconds(),
	}
	if r.HaltedBy != "" {
		payload["halted_by"] = r.HaltedBy
	}
	if r.Interrupted {
		payload["interrupted"] = true
	}
	if r.Repository != "" {
		payload["repository"] = r.Repository
	}
	if r.Pusher != "" {
		payload["pusher"] = r.Pusher
	}
	return payload
}
