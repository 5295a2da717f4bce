package ws

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeSubscriber struct {
	mu     sync.Mutex
	got    [][]byte
	fail   bool
	closed bool
}

func (f *fakeSubscriber) Send(p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("broken pipe")
	}
	f.got = append(f.got, p)
	return nil
}

func (f *fakeSubscriber) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeSubscriber) messages() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.got)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubBroadcastsPerStream(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	audit := &fakeSubscriber{}
	other := &fakeSubscriber{}
	hub.Register("audit", audit)
	hub.Register("other", other)

	hub.Broadcast("audit", []byte(`{"message":"hi"}`))
	waitFor(t, func() bool { return audit.messages() == 1 })
	if other.messages() != 0 {
		t.Fatalf("message leaked to another stream")
	}
}

func TestHubDropsFailingSubscribers(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	broken := &fakeSubscriber{fail: true}
	hub.Register("audit", broken)
	if hub.Subscribers("audit") != 1 {
		t.Fatalf("expected one subscriber")
	}
	hub.Broadcast("audit", []byte("x"))
	waitFor(t, func() bool { return hub.Subscribers("audit") == 0 })
	broken.mu.Lock()
	defer broken.mu.Unlock()
	if !broken.closed {
		t.Fatalf("failing subscriber should be closed")
	}
}

func TestHubUnregisterAndClose(t *testing.T) {
	hub := NewHub()
	sub := &fakeSubscriber{}
	hub.Register("audit", sub)
	hub.Unregister("audit", sub)
	if hub.Subscribers("audit") != 0 {
		t.Fatalf("expected no subscribers after unregister")
	}

	kept := &fakeSubscriber{}
	hub.Register("audit", kept)
	hub.Close()
	waitFor(t, func() bool {
		kept.mu.Lock()
		defer kept.mu.Unlock()
		return kept.closed
	})
	hub.Broadcast("audit", []byte("after close"))
	if hub.Subscribers("audit") != 0 {
		t.Fatalf("closed hub reports subscribers")
	}
}

type slowSubscriber struct {
	fakeSubscriber
	delay time.Duration
}

func (s *slowSubscriber) Send(p []byte) error {
	time.Sleep(s.delay)
	return s.fakeSubscriber.Send(p)
}

func TestHubBroadcastDoesNotWaitForSlowSubscriber(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	slow := &slowSubscriber{delay: 200 * time.Millisecond}
	hub.Register("audit", slow)

	start := time.Now()
	for i := 0; i < 70; i++ {
		hub.Broadcast("audit", []byte(`{"message":"step"}`))
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("broadcast blocked for %s behind a slow subscriber", elapsed)
	}
	if hub.Dropped() == 0 {
		t.Fatalf("expected overflowing broadcasts to be counted as dropped")
	}
	waitFor(t, func() bool { return slow.messages() >= 1 })
}

func TestHubBroadcastAfterCloseIsNoop(t *testing.T) {
	hub := NewHub()
	hub.Close()
	hub.Broadcast("audit", []byte("late"))
	if hub.Dropped() != 0 {
		t.Fatalf("broadcast after close is not a drop")
	}
}
