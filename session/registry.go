package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/room4-2/liverelay/messages"
)

// Inbound is the registry's handle on a running relay. It lets requests that
// arrive outside the relay's own connection (the sidecar POST) reach the agent.
type Inbound interface {
	Deliver(ctx context.Context, env messages.Envelope) error
	Abort(cause error)
	LastActivity() time.Time
}

// Registry maps session ids to live inbound handles. It holds no ownership:
// relays register themselves on start and unregister on teardown.
type Registry struct {
	entries map[string]Inbound
	mu      sync.RWMutex
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]Inbound),
	}
}

// Register adds id. An id that is already present is never replaced.
func (r *Registry) Register(id string, in Inbound) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateSession, id)
	}
	r.entries[id] = in
	return nil
}

// Lookup returns the running session registered under id or ErrSessionNotFound
func (r *Registry) Lookup(id string) (Inbound, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	in, ok := r.entries[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return in, nil
}

// Unregister removes id. Removing an absent id is a no-op.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

// Count returns the number of registered sessions
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Snapshot returns the current entries. Callers act on the copy without holding the lock.
func (r *Registry) Snapshot() map[string]Inbound {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]Inbound, len(r.entries))
	for id, in := range r.entries {
		out[id] = in
	}
	return out
}
