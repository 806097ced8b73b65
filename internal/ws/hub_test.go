package ws

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu      sync.Mutex
	got     [][]byte
	fail    bool
	closed  bool
	arrived chan struct{}
}

func newRecorder(fail bool) *recorder {
	return &recorder{fail: fail, arrived: make(chan struct{}, 8)}
}

func (r *recorder) Send(p []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("broken pipe")
	}
	r.got = append(r.got, p)
	r.arrived <- struct{}{}
	return nil
}

func (r *recorder) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

func (r *recorder) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func waitFor(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestHubRoutesByDeployment(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	a, b := newRecorder(false), newRecorder(false)
	hub.Register("one", a)
	hub.Register("two", b)

	hub.Broadcast("one", []byte("hello"))
	waitFor(t, a.arrived)
	hub.Broadcast("two", []byte("world"))
	waitFor(t, b.arrived)

	if len(a.got) != 1 || string(a.got[0]) != "hello" {
		t.Fatalf("unexpected payloads for one: %q", a.got)
	}
	if len(b.got) != 1 || string(b.got[0]) != "world" {
		t.Fatalf("unexpected payloads for two: %q", b.got)
	}
}

func TestHubDropsFailingSubscriber(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	broken, healthy := newRecorder(true), newRecorder(false)
	hub.Register("one", broken)
	hub.Register("one", healthy)
	hub.Broadcast("one", []byte("x"))
	waitFor(t, healthy.arrived)

	deadline := time.Now().Add(2 * time.Second)
	for !broken.isClosed() {
		if time.Now().After(deadline) {
			t.Fatal("failing subscriber was not closed")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHubCloseClosesSubscribers(t *testing.T) {
	hub := NewHub()
	r := newRecorder(false)
	hub.Register("one", r)
	hub.Close()
	hub.Close()

	deadline := time.Now().Add(2 * time.Second)
	for !r.isClosed() {
		if time.Now().After(deadline) {
			t.Fatal("subscriber not closed on hub close")
		}
		time.Sleep(10 * time.Millisecond)
	}
	hub.Broadcast("one", []byte("ignored"))
}
