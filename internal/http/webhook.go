package httpx

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/ivan-cavero/Ignis/internal/domain"
	"github.com/ivan-cavero/Ignis/internal/service/changes"
	"github.com/ivan-cavero/Ignis/internal/service/deploy"
)

const (
	headerSignature       = "X-Signature-256"
	headerGitHubSignature = "X-Hub-Signature-256"
	headerEvent           = "X-GitHub-Event"
	headerDelivery        = "X-GitHub-Delivery"
)

func (r *Router) handleWebhook(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.notFound(w)
		return
	}
	ip := r.clientIP(req)
	if !r.throttle(w, req, "ip:"+ip) {
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, maxWebhookBody))
	if err != nil {
		r.recordOutcome("unreadable")
		r.auditLog.Warning("webhook rejected: unreadable body", "ip", ip, "error", err)
		writeError(w, http.StatusBadRequest, "could not read body")
		return
	}

	signature := strings.TrimSpace(req.Header.Get(headerSignature))
	if signature == "" {
		signature = strings.TrimSpace(req.Header.Get(headerGitHubSignature))
	}
	if err := r.webhook.ValidateSignature(body, signature); err != nil {
		r.recordOutcome("invalid_signature")
		r.auditLog.Error("webhook rejected: invalid signature", "ip", ip, "reason", err)
		writeError(w, http.StatusForbidden, "invalid signature")
		return
	}

	switch eventType := strings.ToLower(strings.TrimSpace(req.Header.Get(headerEvent))); eventType {
	case "", "push":
	case "ping":
		r.recordOutcome("ping")
		r.auditLog.Info("webhook ping received", "ip", ip)
		writeJSON(w, http.StatusOK, map[string]string{"status": "pong"})
		return
	default:
		r.recordOutcome("event_ignored")
		r.auditLog.Info("webhook event ignored", "event", eventType)
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "ignored",
			"message": "event " + eventType + " is not handled",
		})
		return
	}

	event, err := changes.Parse(body)
	if err != nil {
		r.recordOutcome("malformed")
		r.auditLog.Error("webhook rejected: invalid JSON payload", "ip", ip, "error", err)
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	event.Signature = signature
	event.EventType = req.Header.Get(headerEvent)
	event.DeliveryID = strings.TrimSpace(req.Header.Get(headerDelivery))

	// A delivery is claimed here and released again whenever the run is not
	// carried out, so the sender's retry of a 409, 500 or 503 is processed.
	if !r.webhook.Claim(event.DeliveryID) {
		r.recordOutcome("duplicate")
		r.auditLog.Warning("duplicate delivery ignored", "delivery_id", event.DeliveryID)
		writeJSON(w, http.StatusOK, map[string]string{
			"status":      "duplicate",
			"message":     "delivery already processed",
			"delivery_id": event.DeliveryID,
		})
		return
	}

	branch, set, err := r.extractor.Extract(event)
	if errors.Is(err, domain.ErrBranchIgnored) {
		r.recordOutcome("branch_ignored")
		r.auditLog.Info("branch ignored", "branch", branch, "ref", event.Ref)
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "ignored",
			"message": "branch " + branch + " is not deployable",
			"branch":  branch,
		})
		return
	}
	environment := r.extractor.Environment(branch)
	r.auditLog.Info("push received",
		"branch", branch,
		"environment", environment,
		"repository", event.Repository.Name,
		"pusher", event.Pusher.Name,
		"changed_files", set.Len(),
	)

	plan := r.resolver.Resolve(set)
	if plan.Empty() {
		r.recordOutcome("no_changes")
		r.auditLog.Info("no deployment needed", "branch", branch, "changed_files", set.Len())
		writeJSON(w, http.StatusOK, map[string]any{
			"status":        "skipped",
			"message":       "no deployment needed",
			"branch":        branch,
			"environment":   environment,
			"changed_files": set.Len(),
		})
		return
	}
	r.auditLog.Info("deployment plan resolved", "branch", branch, "plan", plan.Components())

	run, err := r.coordinator.Run(req.Context(), deploy.Request{
		Branch:      branch,
		Environment: environment,
		Repository:  event.Repository.Name,
		Pusher:      event.Pusher.Name,
		Plan:        plan,
	})
	switch {
	case errors.Is(err, domain.ErrRunInProgress):
		r.webhook.Forget(event.DeliveryID)
		r.recordOutcome("run_in_progress")
		writeJSON(w, http.StatusConflict, map[string]any{
			"status":  "rejected",
			"error":   "deployment already in progress",
			"branch":  branch,
			"pending": plan.Components(),
		})
	case errors.Is(err, domain.ErrShuttingDown) && len(run.Results) == 0:
		r.webhook.Forget(event.DeliveryID)
		r.recordOutcome("shutting_down")
		writeError(w, http.StatusServiceUnavailable, "dispatcher shutting down")
	case run.Success:
		r.recordOutcome("deployed")
		writeJSON(w, http.StatusOK, run.Summary())
	default:
		r.webhook.Forget(event.DeliveryID)
		r.recordOutcome("failed")
		writeJSON(w, http.StatusInternalServerError, run.Summary())
	}
}
