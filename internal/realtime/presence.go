package realtime

import "sync"

// Registry tracks which users currently have live connections. It is the
// only shared mutable state on the hot path, so every operation is O(1)
// or O(connections-of-one-user) under a single RWMutex.
//
// A user may hold several connections at once (multiple tabs/devices);
// presence is per-user, derived from the connection multimap.
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]map[string]struct{} // userID -> set of connIDs
	byConn map[string]string              // connID -> userID
}

func NewRegistry() *Registry {
	return &Registry{
		byUser: make(map[string]map[string]struct{}),
		byConn: make(map[string]string),
	}
}

// Register adds connID under userID. Returns true if this is the user's
// first live connection, i.e. the user just came online.
func (r *Registry) Register(userID, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	// A connection belongs to exactly one user; re-registering moves it
	if prev, ok := r.byConn[connID]; ok && prev != userID {
		r.removeLocked(prev, connID)
	}

	conns, ok := r.byUser[userID]
	if !ok {
		conns = make(map[string]struct{})
		r.byUser[userID] = conns
	}
	first := len(conns) == 0
	conns[connID] = struct{}{}
	r.byConn[connID] = userID
	return first
}

// Unregister removes connID from whichever user owns it. Returns the
// owning userID and true if it was that user's last connection, i.e. the
// user just went offline. Unknown connections return ("", false).
func (r *Registry) Unregister(connID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.byConn[connID]
	if !ok {
		return "", false
	}
	r.removeLocked(userID, connID)
	_, stillOnline := r.byUser[userID]
	return userID, !stillOnline
}

func (r *Registry) removeLocked(userID, connID string) {
	delete(r.byConn, connID)
	if conns, ok := r.byUser[userID]; ok {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(r.byUser, userID)
		}
	}
}

// IsOnline reports whether userID has at least one live connection.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

// ConnectionsFor returns the live connection IDs for userID, empty if
// offline. The router fans events out over this list.
func (r *Registry) ConnectionsFor(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]string, 0, len(r.byUser[userID]))
	for connID := range r.byUser[userID] {
		conns = append(conns, connID)
	}
	return conns
}

// ConnectionsExcept returns every live connection not owned by userID.
// Used for presence broadcasts, which skip the subject's own connections.
func (r *Registry) ConnectionsExcept(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]string, 0, len(r.byConn))
	for connID, owner := range r.byConn {
		if owner != userID {
			conns = append(conns, connID)
		}
	}
	return conns
}

// OnlineUsers returns the IDs of all users currently online.
func (r *Registry) OnlineUsers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]string, 0, len(r.byUser))
	for userID := range r.byUser {
		users = append(users, userID)
	}
	return users
}
