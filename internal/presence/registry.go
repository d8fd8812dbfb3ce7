// Package presence tracks which users currently hold a live websocket
// connection. The registry is process-local by design: it does not survive a
// restart and does not generalize to multiple server instances.
package presence

import "sync"

// Registry maps user ids to their most recent connection id. The model is
// last-writer-wins per user: a second simultaneous session for the same user
// overwrites the first, so a user with two devices is tracked by one entry.
type Registry struct {
	mu    sync.RWMutex
	conns map[int]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[int]string)}
}

// Register records connID as the user's live connection, replacing any
// previous one.
func (r *Registry) Register(userID int, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[userID] = connID
}

// Unregister removes the user's entry unconditionally.
func (r *Registry) Unregister(userID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, userID)
}

// UnregisterConn removes the user's entry only if connID is still the
// registered connection. A disconnect that lost a reconnect race leaves the
// newer registration in place. Reports whether the entry was removed.
func (r *Registry) UnregisterConn(userID int, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.conns[userID]; ok && current == connID {
		delete(r.conns, userID)
		return true
	}
	return false
}

// IsOnline reports whether the user has a registered connection.
func (r *Registry) IsOnline(userID int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[userID]
	return ok
}

// OnlineUserIDs returns the ids of all registered users.
func (r *Registry) OnlineUserIDs() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]int, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	return ids
}
