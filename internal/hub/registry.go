package hub

import (
	"sort"
	"sync"
)

type set map[string]struct{}

// Registry tracks live connections, the user behind each one, and the rooms
// each connection has joined. Lookups for unknown ids return empty results.
type Registry struct {
	mu      sync.RWMutex
	users   map[string]string // connection -> user
	rooms   map[string]set    // connection -> rooms
	members map[string]set    // room -> connections
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		users:   make(map[string]string),
		rooms:   make(map[string]set),
		members: make(map[string]set),
	}
}

// Register maps a connection to a user. Re-registering a connection for a
// different user drops its previous room memberships.
func (r *Registry) Register(connID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.users[connID]; ok && prev != userID {
		r.leaveAllLocked(connID)
	}
	r.users[connID] = userID
	if _, ok := r.rooms[connID]; !ok {
		r.rooms[connID] = make(set)
	}
}

// Unregister removes a connection and all of its room memberships.
func (r *Registry) Unregister(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.leaveAllLocked(connID)
	delete(r.users, connID)
	delete(r.rooms, connID)
}

// JoinRoom adds a registered connection to a room. It reports false when the
// connection is unknown.
func (r *Registry) JoinRoom(connID, roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rooms, ok := r.rooms[connID]
	if !ok {
		return false
	}
	rooms[roomID] = struct{}{}
	if _, ok := r.members[roomID]; !ok {
		r.members[roomID] = make(set)
	}
	r.members[roomID][connID] = struct{}{}
	return true
}

// LeaveRoom removes a connection from a room.
func (r *Registry) LeaveRoom(connID, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rooms, ok := r.rooms[connID]; ok {
		delete(rooms, roomID)
	}
	r.removeMemberLocked(roomID, connID)
}

// MembersOf returns the connections currently joined to a room, sorted.
func (r *Registry) MembersOf(roomID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.members[roomID])
}

// RoomsOf returns the rooms a connection has joined, sorted.
func (r *Registry) RoomsOf(connID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.rooms[connID])
}

// UserOf returns the user behind a connection.
func (r *Registry) UserOf(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[connID]
	return u, ok
}

// Stats returns the number of live connections and non-empty rooms.
func (r *Registry) Stats() (connections, rooms int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users), len(r.members)
}

func (r *Registry) leaveAllLocked(connID string) {
	for roomID := range r.rooms[connID] {
		r.removeMemberLocked(roomID, connID)
	}
	if _, ok := r.rooms[connID]; ok {
		r.rooms[connID] = make(set)
	}
}

func (r *Registry) removeMemberLocked(roomID, connID string) {
	members, ok := r.members[roomID]
	if !ok {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(r.members, roomID)
	}
}

func sortedKeys(s set) []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
