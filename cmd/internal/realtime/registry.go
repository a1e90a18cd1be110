package realtime

import (
	"log/slog"
	"sync"

	"vision/cmd/internal/metrics"
)

// Registry is the process-wide table of live connections and the session
// identity bound to each. All access goes through its mutex; no caller ever
// sees a torn map.
type Registry struct {
	log *slog.Logger
	met *metrics.Metrics

	mu      sync.Mutex
	entries map[*Client]*binding
}

// binding is the identity attached to a connection. Both fields are empty
// until the first authenticated message binds them, and never change after.
type binding struct {
	username    string
	accessToken string
}

// NewRegistry constructs an empty Registry.
func NewRegistry(log *slog.Logger, met *metrics.Metrics) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		log:     log,
		met:     met,
		entries: make(map[*Client]*binding),
	}
}

// Register adds an anonymous entry for c.
func (r *Registry) Register(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[c]; ok {
		return
	}
	r.entries[c] = &binding{}
	r.met.ConnOpened()
}

// Bind attaches the session identity to c. A connection's identity does not
// change mid-life: once set, later calls are ignored.
func (r *Registry) Bind(c *Client, username, accessToken string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.entries[c]
	if !ok || b.username != "" || b.accessToken != "" {
		return
	}
	b.username = username
	b.accessToken = accessToken
}

// Unregister removes the entry for c; idempotent.
func (r *Registry) Unregister(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[c]; !ok {
		return
	}
	delete(r.entries, c)
	r.met.ConnClosed()
}

// Len reports the number of live entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Broadcast queues msg on matching connections and reports how many
// received it. With an empty accessToken the message goes to every bound
// entry (anonymous connections are skipped); otherwise only to entries
// bound to exactly that token. Delivery is best effort: a connection whose
// send queue is full is skipped, never blocked on.
func (r *Registry) Broadcast(msg []byte, accessToken string) int {
	r.mu.Lock()
	targets := make([]*Client, 0, len(r.entries))
	for c, b := range r.entries {
		if b.accessToken == "" {
			continue
		}
		if accessToken == "" || b.accessToken == accessToken {
			targets = append(targets, c)
		}
	}
	r.mu.Unlock()

	delivered := 0
	for _, c := range targets {
		select {
		case <-c.Done():
		case c.Send <- msg:
			delivered++
		default:
			r.log.Warn("registry.broadcast.drop", "conn_id", c.ID)
		}
	}
	r.met.BroadcastDelivered(delivered)
	return delivered
}

// CloseMatching force-closes every connection whose bound username OR bound
// access token matches, removes it from the registry, and reports how many
// were closed. Matching either criterion is sufficient; empty criteria match
// nothing. The matching set is snapshotted under the lock and the closes
// issued outside it, so a close that re-enters Unregister cannot deadlock.
func (r *Registry) CloseMatching(username, accessToken, reason string) int {
	r.mu.Lock()
	matched := make([]*Client, 0)
	for c, b := range r.entries {
		if (username != "" && b.username == username) ||
			(accessToken != "" && b.accessToken == accessToken) {
			matched = append(matched, c)
		}
	}
	for _, c := range matched {
		delete(r.entries, c)
		r.met.ConnClosed()
	}
	r.mu.Unlock()

	for _, c := range matched {
		r.log.Info("registry.close", "conn_id", c.ID, "reason", reason)
		c.Close(reason)
	}
	r.met.ForcedClose(len(matched))
	return len(matched)
}
