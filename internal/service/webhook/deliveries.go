package webhook

import (
	"strings"
	"sync"
	"time"
)

// DefaultDeliveryWindow is how long delivery ids are remembered. Senders
// retry within minutes, so an hour is ample.
const DefaultDeliveryWindow = time.Hour

// DeliveryTracker remembers recently processed delivery ids.
type DeliveryTracker struct {
	mu      sync.Mutex
	window  time.Duration
	now     func() time.Time
	entries map[string]time.Time
}

// NewDeliveryTracker creates a tracker with the given window.
func NewDeliveryTracker(window time.Duration) *DeliveryTracker {
	if window <= 0 {
		window = DefaultDeliveryWindow
	}
	return &DeliveryTracker{
		window:  window,
		now:     time.Now,
		entries: make(map[string]time.Time),
	}
}

// Claim records id and reports whether it is new within the window. A
// claimed id whose delivery was not processed must be given back with Forget
// so that a redelivery is accepted.
func (t *DeliveryTracker) Claim(id string) bool {
	id = strings.TrimSpace(id)
	if id == "" {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	for key, at := range t.entries {
		if now.Sub(at) > t.window {
			delete(t.entries, key)
		}
	}
	if _, ok := t.entries[id]; ok {
		return false
	}
	t.entries[id] = now
	return true
}

// Forget drops id so the next delivery with it is treated as new.
func (t *DeliveryTracker) Forget(id string) {
	id = strings.TrimSpace(id)
	if id == "" {
		return
	}
	t.mu.Lock()
	delete(t.entries, id)
	t.mu.Unlock()
}
