package realtime

import (
	"log/slog"
	"sort"
	"sync"

	"relay/cmd/internal/metrics"
)

// Registry maps each authenticated participant to its live connection.
//
// Concurrency guarantees:
// - Register/Deregister/Detach are safe under concurrent ForEachReady.
// - ForEachReady iterates a snapshot; the lock is never held while enqueueing.
// - Register swaps the entry under the lock and never closes the replaced client.
type Registry struct {
	log     *slog.Logger
	roster  *Roster
	metrics *metrics.Metrics

	mu      sync.RWMutex
	clients map[string]*Client
}

// NewRegistry constructs a registry that only admits roster identities.
func NewRegistry(log *slog.Logger, roster *Roster, m *metrics.Metrics) *Registry {
	return &Registry{
		log:     log,
		roster:  roster,
		metrics: m,
		clients: make(map[string]*Client),
	}
}

// Register binds identity to client, replacing any previous connection (last writer wins).
// Identities outside the roster are ignored.
func (r *Registry) Register(identity string, client *Client) bool {
	if r == nil || client == nil || !r.roster.Contains(identity) {
		return false
	}

	r.mu.Lock()
	prev := r.clients[identity]
	r.clients[identity] = client
	n := len(r.clients)
	r.mu.Unlock()

	r.metrics.SetSessions(n)
	if prev != nil && prev != client {
		r.log.Info("registry.replace", "user_id", identity, "session_id", client.SessionID, "prev_session_id", prev.SessionID)
		return true
	}
	r.log.Info("registry.register", "user_id", identity, "session_id", client.SessionID)
	return true
}

// Deregister removes identity unconditionally. It is idempotent.
func (r *Registry) Deregister(identity string) {
	if r == nil || identity == "" {
		return
	}

	r.mu.Lock()
	_, ok := r.clients[identity]
	delete(r.clients, identity)
	n := len(r.clients)
	r.mu.Unlock()

	if ok {
		r.metrics.SetSessions(n)
		r.log.Info("registry.deregister", "user_id", identity)
	}
}

// Detach removes identity only while it still points at client. An orphaned connection closing
// late therefore never evicts its replacement.
func (r *Registry) Detach(identity string, client *Client) bool {
	if r == nil || identity == "" || client == nil {
		return false
	}

	r.mu.Lock()
	cur, ok := r.clients[identity]
	if !ok || cur != client {
		r.mu.Unlock()
		return false
	}
	delete(r.clients, identity)
	n := len(r.clients)
	r.mu.Unlock()

	r.metrics.SetSessions(n)
	r.log.Info("registry.detach", "user_id", identity, "session_id", client.SessionID)
	return true
}

// Lookup returns the connection currently bound to identity.
func (r *Registry) Lookup(identity string) (*Client, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[identity]
	return c, ok
}

// ActiveIdentities returns a sorted snapshot of registered identities.
func (r *Registry) ActiveIdentities() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	out := make([]string, 0, len(r.clients))
	for id := range r.clients {
		out = append(out, id)
	}
	r.mu.RUnlock()

	sort.Strings(out)
	return out
}

// Len returns the number of registered identities.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// ForEachReady calls fn for every ready client in a snapshot taken under the read lock.
// An error from fn is logged and iteration continues. Clients found closed are detached.
// It returns the number of clients for which fn succeeded.
func (r *Registry) ForEachReady(fn func(*Client) error) int {
	if r == nil || fn == nil {
		return 0
	}

	type entry struct {
		identity string
		client   *Client
	}

	r.mu.RLock()
	snapshot := make([]entry, 0, len(r.clients))
	for id, c := range r.clients {
		snapshot = append(snapshot, entry{identity: id, client: c})
	}
	r.mu.RUnlock()

	delivered := 0
	for _, e := range snapshot {
		if e.client.Closed() {
			r.Detach(e.identity, e.client)
			continue
		}
		if !e.client.Ready() {
			continue
		}
		if err := fn(e.client); err != nil {
			r.log.Info("registry.deliver.fail", "user_id", e.identity, "session_id", e.client.SessionID, "err", err)
			continue
		}
		delivered++
	}
	return delivered
}
