package realtime

import (
	"log/slog"
	"sync"
	"testing"
	"time"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	return NewClient(time.Now().UTC(), 8)
}

func drain(c *Client) [][]byte {
	var out [][]byte
	for {
		select {
		case m := <-c.Send:
			out = append(out, m)
		default:
			return out
		}
	}
}

func TestRegistry_BroadcastTargeting(t *testing.T) {
	r := NewRegistry(slog.New(slog.DiscardHandler), nil)

	// Three clients bound to token A, two to token B, one anonymous.
	var groupA, groupB []*Client
	for i := 0; i < 3; i++ {
		c := newTestClient(t)
		r.Register(c)
		r.Bind(c, "alice", "token-a")
		groupA = append(groupA, c)
	}
	for i := 0; i < 2; i++ {
		c := newTestClient(t)
		r.Register(c)
		r.Bind(c, "bob", "token-b")
		groupB = append(groupB, c)
	}
	anon := newTestClient(t)
	r.Register(anon)

	// Targeted broadcast reaches exactly the token's connections.
	if n := r.Broadcast([]byte(`{"x":1}`), "token-a"); n != 3 {
		t.Fatalf("targeted broadcast delivered %d, want 3", n)
	}
	for i, c := range groupA {
		if got := drain(c); len(got) != 1 {
			t.Fatalf("group A client %d got %d messages", i, len(got))
		}
	}
	for i, c := range groupB {
		if got := drain(c); len(got) != 0 {
			t.Fatalf("group B client %d got %d messages", i, len(got))
		}
	}

	// Global broadcast reaches every bound connection but not anonymous ones.
	if n := r.Broadcast([]byte(`{"x":2}`), ""); n != 5 {
		t.Fatalf("global broadcast delivered %d, want 5", n)
	}
	if got := drain(anon); len(got) != 0 {
		t.Fatalf("anonymous client got %d messages", len(got))
	}
}

func TestRegistry_BindIsWriteOnce(t *testing.T) {
	r := NewRegistry(slog.New(slog.DiscardHandler), nil)

	c := newTestClient(t)
	r.Register(c)
	r.Bind(c, "alice", "token-a")
	r.Bind(c, "mallory", "token-m")

	if n := r.Broadcast([]byte("x"), "token-m"); n != 0 {
		t.Fatalf("rebinding took effect: delivered %d", n)
	}
	if n := r.Broadcast([]byte("x"), "token-a"); n != 1 {
		t.Fatalf("original binding lost: delivered %d", n)
	}
}

func TestRegistry_CloseMatching(t *testing.T) {
	r := NewRegistry(slog.New(slog.DiscardHandler), nil)

	var reasons []string
	var mu sync.Mutex
	mkBound := func(username, token string) *Client {
		c := newTestClient(t)
		c.OnClose(func(reason string) {
			mu.Lock()
			reasons = append(reasons, reason)
			mu.Unlock()
			// Closing re-enters the registry, like the gateway does.
			r.Unregister(c)
		})
		r.Register(c)
		r.Bind(c, username, token)
		return c
	}

	mkBound("alice", "token-a1")
	mkBound("alice", "token-a2")
	bob := mkBound("bob", "token-b")
	anon := newTestClient(t)
	r.Register(anon)

	// Username OR token: matches both of alice's connections plus bob's by token.
	n := r.CloseMatching("alice", "token-b", CloseReasonSessionExpired)
	if n != 3 {
		t.Fatalf("CloseMatching closed %d, want 3", n)
	}
	if r.Len() != 1 {
		t.Fatalf("registry has %d entries, want 1 (anonymous survivor)", r.Len())
	}

	// The close callbacks run detached; wait for them.
	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		done := len(reasons) == 3
		mu.Unlock()
		if done {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("close callbacks did not all run")
		case <-time.After(10 * time.Millisecond):
		}
	}
	for _, reason := range reasons {
		if reason != CloseReasonSessionExpired {
			t.Fatalf("close reason = %q", reason)
		}
	}

	// Closing an already closed connection is a no-op.
	if n := r.CloseMatching("bob", "", "again"); n != 0 {
		t.Fatalf("second CloseMatching closed %d, want 0", n)
	}
	select {
	case <-bob.Done():
	default:
		t.Fatalf("bob's client not marked done")
	}

	// No entries remain for the closed token.
	if n := r.Broadcast([]byte("x"), "token-a1"); n != 0 {
		t.Fatalf("broadcast to closed token delivered %d", n)
	}
}

func TestRegistry_UnregisterIdempotent(t *testing.T) {
	r := NewRegistry(slog.New(slog.DiscardHandler), nil)

	c := newTestClient(t)
	r.Register(c)
	r.Unregister(c)
	r.Unregister(c)
	if r.Len() != 0 {
		t.Fatalf("registry not empty: %d", r.Len())
	}
}

func TestRegistry_ConcurrentBroadcastAndClose(t *testing.T) {
	r := NewRegistry(slog.New(slog.DiscardHandler), nil)

	for i := 0; i < 32; i++ {
		c := NewClient(time.Now().UTC(), 1)
		c.OnClose(func(string) { r.Unregister(c) })
		r.Register(c)
		r.Bind(c, "alice", "token-a")
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			r.Broadcast([]byte("x"), "token-a")
		}
	}()
	go func() {
		defer wg.Done()
		r.CloseMatching("alice", "", "bye")
	}()
	wg.Wait()

	if r.Len() != 0 {
		t.Fatalf("registry not empty after concurrent close: %d", r.Len())
	}
}

func TestRateLimiter_Window(t *testing.T) {
	rl := NewRateLimiter(3, time.Second)
	now := time.Now()

	for i := 0; i < 3; i++ {
		if !rl.Allow(now) {
			t.Fatalf("event %d should be allowed", i)
		}
	}
	if rl.Allow(now) {
		t.Fatalf("fourth event in window should be denied")
	}
	if !rl.Allow(now.Add(2 * time.Second)) {
		t.Fatalf("event after window should be allowed")
	}
}
