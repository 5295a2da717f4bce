package httpx

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Quota is a limiter verdict for one request.
type Quota struct {
	Allowed   bool
	Limit     int
	Remaining int
	// Reset is when the oldest counted request leaves the window.
	Reset time.Time
}

// RateLimiter counts webhook calls per key over a sliding window.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (Quota, error)
	Close()
}

// MemoryRateLimiter keeps a sliding log of request times per key.
type MemoryRateLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu     sync.Mutex
	hits   map[string][]time.Time
	pruned time.Time
}

// NewMemoryRateLimiter allows limit calls per key in any window-long span.
// A non-positive limit allows everything.
func NewMemoryRateLimiter(limit int, window time.Duration) *MemoryRateLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &MemoryRateLimiter{
		limit:  limit,
		window: window,
		now:    time.Now,
		hits:   make(map[string][]time.Time),
	}
}

func (m *MemoryRateLimiter) Allow(_ context.Context, key string) (Quota, error) {
	if m.limit <= 0 {
		return Quota{Allowed: true}, nil
	}
	now := m.now()
	cutoff := now.Add(-m.window)

	m.mu.Lock()
	defer m.mu.Unlock()
	if now.Sub(m.pruned) >= m.window {
		m.prune(cutoff)
		m.pruned = now
	}

	hits := within(m.hits[key], cutoff)
	quota := Quota{Limit: m.limit}
	if len(hits) < m.limit {
		hits = append(hits, now)
		quota.Allowed = true
		quota.Remaining = m.limit - len(hits)
	}
	m.hits[key] = hits
	quota.Reset = hits[0].Add(m.window)
	return quota, nil
}

// prune drops keys with no request inside the window.
func (m *MemoryRateLimiter) prune(cutoff time.Time) {
	for key, hits := range m.hits {
		if len(within(hits, cutoff)) == 0 {
			delete(m.hits, key)
		}
	}
}

func (m *MemoryRateLimiter) Close() {}

func within(hits []time.Time, cutoff time.Time) []time.Time {
	for i, at := range hits {
		if at.After(cutoff) {
			return hits[i:]
		}
	}
	return hits[:0]
}

// throttle charges key against the limiter and answers 429 itself when the
// caller is over quota. Limiter errors let the request through.
func (r *Router) throttle(w http.ResponseWriter, req *http.Request, key string) bool {
	if r.limiter == nil {
		return true
	}
	quota, err := r.limiter.Allow(req.Context(), key)
	if err != nil {
		r.logger.Warn("rate limiter unavailable, allowing request", "key", key, "error", err)
		return true
	}
	if quota.Limit <= 0 {
		return true
	}
	headers := w.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(quota.Limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(quota.Remaining))
	headers.Set("X-RateLimit-Reset", strconv.FormatInt(quota.Reset.Unix(), 10))
	if quota.Allowed {
		return true
	}

	retryAfter := int(math.Ceil(quota.Reset.Sub(r.now()).Seconds()))
	if retryAfter < 1 {
		retryAfter = 1
	}
	headers.Set("Retry-After", strconv.Itoa(retryAfter))
	r.recordRateLimitHit("/webhook", keyKind(key))
	r.recordOutcome("rate_limited")
	r.auditLog.Warning("webhook rejected: rate limit exceeded", "key", key, "retry_after", retryAfter)
	writeJSON(w, http.StatusTooManyRequests, map[string]any{
		"status":      "rejected",
		"error":       "rate limit exceeded",
		"retry_after": retryAfter,
	})
	return false
}

// keyKind keeps metric labels bounded: "ip:10.0.0.1" is counted as "ip".
func keyKind(key string) string {
	for i := 0; i < len(key); i++ {
		if key[i] == ':' {
			return key[:i]
		}
	}
	return "unknown"
}
