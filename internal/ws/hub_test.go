package ws

import (
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

type testSubscriber struct {
	ch     chan []byte
	fail   bool
	mu     sync.Mutex
	closed bool
}

func newTestSubscriber() *testSubscriber {
	return &testSubscriber{ch: make(chan []byte, 8)}
}

func (s *testSubscriber) Send(payload []byte) error {
	if s.fail {
		return errors.New("boom")
	}
	s.ch <- payload
	return nil
}

func (s *testSubscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *testSubscriber) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func receive(t *testing.T, s *testSubscriber) string {
	t.Helper()
	select {
	case p := <-s.ch:
		return string(p)
	case <-time.After(time.Second):
		t.Fatal("expected payload")
		return ""
	}
}

func TestHubRoutesByTopic(t *testing.T) {
	hub := NewHub(4)
	defer hub.Close()

	travis := newTestSubscriber()
	all := newTestSubscriber()
	hub.Register("travis-ci", travis)
	hub.Register(AllTopics, all)

	if !hub.Publish("travis-ci", []byte("t1")) {
		t.Fatal("expected publish to be accepted")
	}
	hub.Publish("github-actions", []byte("g1"))

	if got := receive(t, travis); got != "t1" {
		t.Fatalf("unexpected travis payload %q", got)
	}
	if got := receive(t, all); got != "t1" {
		t.Fatalf("unexpected wildcard payload %q", got)
	}
	if got := receive(t, all); got != "g1" {
		t.Fatalf("unexpected wildcard payload %q", got)
	}
	select {
	case p := <-travis.ch:
		t.Fatalf("travis subscriber received foreign payload %q", p)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubDropsFailingSubscriber(t *testing.T) {
	hub := NewHub(4)
	defer hub.Close()

	bad := newTestSubscriber()
	bad.fail = true
	hub.Register("a", bad)
	hub.Publish("a", []byte("x"))

	deadline := time.Now().Add(time.Second)
	for !bad.isClosed() {
		if time.Now().After(deadline) {
			t.Fatal("expected failing subscriber to be closed")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubCloseStopsPublishing(t *testing.T) {
	hub := NewHub(1)
	sub := newTestSubscriber()
	hub.Register("a", sub)
	hub.Close()
	if hub.Publish("a", []byte("late")) {
		t.Fatal("expected publish after close to be rejected")
	}
	hub.Unregister("a", sub)
}

func TestSSEClientFrames(t *testing.T) {
	rec := httptest.NewRecorder()
	client := NewSSEClient(rec, rec, "counter", nil)
	if err := client.Send([]byte(`{"a":1}`)); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := client.Heartbeat(); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	client.Close()
	if err := client.Send([]byte("x")); err == nil {
		t.Fatal("expected send after close to fail")
	}
	select {
	case <-client.Done():
	default:
		t.Fatal("expected done channel closed")
	}
	body := rec.Body.String()
	if !strings.Contains(body, "event: counter\ndata: {\"a\":1}\n\n") || !strings.Contains(body, ": ping\n\n") {
		t.Fatalf("unexpected stream body %q", body)
	}
}
