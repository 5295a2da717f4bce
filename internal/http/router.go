package httpx

import (
	"bufio"
	"errors"
	"log/slog"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ivan-cavero/Ignis/internal/audit"
	"github.com/ivan-cavero/Ignis/internal/service/changes"
	"github.com/ivan-cavero/Ignis/internal/service/deploy"
	"github.com/ivan-cavero/Ignis/internal/service/resolve"
	"github.com/ivan-cavero/Ignis/internal/service/webhook"
	"github.com/ivan-cavero/Ignis/internal/ws"
)

const (
	rateWindowDefault = time.Minute
	maxWebhookBody    = 5 << 20
)

// Deps carries the services the router delegates to. RateLimit is the number
// of webhook calls allowed per client IP per minute when Limiter is nil; zero
// disables limiting. X-Forwarded-For is honoured only from loopback peers and
// TrustedProxies.
type Deps struct {
	Audit          *audit.Logger
	Webhook        webhook.Service
	Extractor      changes.Extractor
	Resolver       *resolve.Resolver
	Coordinator    *deploy.Coordinator
	Hub            *ws.Hub
	Limiter        RateLimiter
	RateLimit      int
	TrustedProxies []netip.Prefix
	StreamSecret   string
	Registerer     prometheus.Registerer
	Gatherer       prometheus.Gatherer
	Now            func() time.Time
}

// Router wires HTTP endpoints to services.
type Router struct {
	mux         *http.ServeMux
	logger      *slog.Logger
	auditLog    *audit.Logger
	webhook     webhook.Service
	extractor   changes.Extractor
	resolver    *resolve.Resolver
	coordinator *deploy.Coordinator
	hub         *ws.Hub
	upgrader    websocket.Upgrader
	limiter     RateLimiter
	proxies     []netip.Prefix
	secret      string
	gatherer    prometheus.Gatherer
	registerer  prometheus.Registerer
	started     time.Time
	now         func() time.Time

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
	webhookOutcomes    *prometheus.CounterVec
}

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, deps Deps) *Router {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	auditLog := deps.Audit
	if auditLog == nil {
		auditLog = audit.Discard()
	}
	r := &Router{
		mux:         http.NewServeMux(),
		logger:      logger,
		auditLog:    auditLog,
		webhook:     deps.Webhook,
		extractor:   deps.Extractor,
		resolver:    deps.Resolver,
		coordinator: deps.Coordinator,
		hub:         deps.Hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:    deps.Limiter,
		proxies:    deps.TrustedProxies,
		secret:     strings.TrimSpace(deps.StreamSecret),
		registerer: deps.Registerer,
		gatherer:   deps.Gatherer,
		started:    now(),
		now:        now,
	}
	if r.registerer == nil {
		r.registerer = prometheus.DefaultRegisterer
	}
	if r.gatherer == nil {
		r.gatherer = prometheus.DefaultGatherer
	}
	if r.limiter == nil && deps.RateLimit > 0 {
		r.limiter = NewMemoryRateLimiter(deps.RateLimit, rateWindowDefault)
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.Handle("/metrics", promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{}))
	r.mux.HandleFunc("/health", r.audit(r.instrument("/health", r.handleHealth)))
	r.mux.HandleFunc("/webhook", r.audit(r.instrument("/webhook", r.handleWebhook)))
	r.mux.HandleFunc("/ws/audit", r.audit(r.handleAuditStream))
	r.mux.HandleFunc("/", r.audit(r.instrument("unmatched", func(w http.ResponseWriter, _ *http.Request) { r.notFound(w) })))
}

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.notFound(w)
		return
	}
	now := r.now()
	uptime := now.Sub(r.started)
	running := false
	if r.coordinator != nil {
		running = r.coordinator.Running()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"timestamp":       now.UTC().Format(time.RFC3339),
		"uptime":          uptime.Seconds(),
		"uptime_human":    uptime.Truncate(time.Second).String(),
		"run_in_progress": running,
	})
}

func (r *Router) audit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		duration := time.Since(start)
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := r.clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}
		if delivery := strings.TrimSpace(req.Header.Get(headerDelivery)); delivery != "" {
			fields = append(fields, "delivery_id", delivery)
		}

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		if sr.status == 0 {
			sr.status = http.StatusSwitchingProtocols
		}
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

// clientIP is the peer address, or the left-most X-Forwarded-For entry when
// the peer is loopback or a trusted proxy.
func (r *Router) clientIP(req *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		host = strings.TrimSpace(req.RemoteAddr)
	}
	peer, err := netip.ParseAddr(host)
	if err != nil || !r.trusted(peer.Unmap()) {
		return host
	}
	forwarded, _, _ := strings.Cut(req.Header.Get("X-Forwarded-For"), ",")
	if ip, err := netip.ParseAddr(strings.TrimSpace(forwarded)); err == nil {
		return ip.Unmap().String()
	}
	return host
}

func (r *Router) trusted(peer netip.Addr) bool {
	if peer.IsLoopback() {
		return true
	}
	for _, prefix := range r.proxies {
		if prefix.Contains(peer) {
			return true
		}
	}
	return false
}

// ParseTrustedProxies turns addresses and CIDR ranges into prefixes. A bare
// address becomes a single-host prefix.
func ParseTrustedProxies(entries []string) ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", entry, err)
			}
			prefixes = append(prefixes, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", entry, err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}
