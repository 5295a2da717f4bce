package httpx

import (
	"net/http"
	"strings"

	"github.com/ivan-cavero/Ignis/internal/audit"
	"github.com/ivan-cavero/Ignis/internal/ws"
	jwtpkg "github.com/ivan-cavero/Ignis/pkg/jwt"
)

// handleAuditStream upgrades to a websocket that receives every audit entry.
// It is disabled unless a stream secret is configured.
func (r *Router) handleAuditStream(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet || r.hub == nil || r.secret == "" {
		r.notFound(w)
		return
	}
	token := strings.TrimSpace(req.URL.Query().Get("token"))
	if token == "" {
		if header := req.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
			token = strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		}
	}
	if token == "" {
		writeError(w, http.StatusUnauthorized, "missing token")
		return
	}
	claims, err := jwtpkg.Parse(token, r.secret)
	if err != nil {
		r.logger.Warn("audit stream token rejected", "error", err)
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	if !claims.HasScope(jwtpkg.ScopeAuditStream) {
		writeError(w, http.StatusForbidden, "token lacks audit scope")
		return
	}

	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	r.hub.Register(audit.Stream, client)
	r.auditLog.Info("audit stream subscriber connected", "subject", claims.Subject, "ip", r.clientIP(req))
	go func() {
		defer func() {
			r.hub.Unregister(audit.Stream, client)
			client.Close()
		}()
		client.Drain()
	}()
}
