package realtime

import "sync"

// Registry tracks which sessions are members of which rooms. A room id is a
// workspace id or a document id; rooms come into existence on first join and
// are pruned when the last member leaves. Nothing here is persisted; after a
// restart clients reconnect and rejoin.
type Registry struct {
	mu     sync.RWMutex
	rooms  map[string]map[string]struct{}
	byConn map[string]map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		rooms:  make(map[string]map[string]struct{}),
		byConn: make(map[string]map[string]struct{}),
	}
}

// Join is idempotent: joining a room twice has no additional effect.
func (r *Registry) Join(sessionID, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	members, ok := r.rooms[roomID]
	if !ok {
		members = make(map[string]struct{})
		r.rooms[roomID] = members
	}
	members[sessionID] = struct{}{}

	joined, ok := r.byConn[sessionID]
	if !ok {
		joined = make(map[string]struct{})
		r.byConn[sessionID] = joined
	}
	joined[roomID] = struct{}{}
}

func (r *Registry) Leave(sessionID, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(sessionID, roomID)
}

// LeaveAll removes the session from every room it joined; called on
// disconnect.
func (r *Registry) LeaveAll(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for roomID := range r.byConn[sessionID] {
		r.leaveLocked(sessionID, roomID)
	}
}

func (r *Registry) leaveLocked(sessionID, roomID string) {
	if members, ok := r.rooms[roomID]; ok {
		delete(members, sessionID)
		if len(members) == 0 {
			delete(r.rooms, roomID)
		}
	}
	if joined, ok := r.byConn[sessionID]; ok {
		delete(joined, roomID)
		if len(joined) == 0 {
			delete(r.byConn, sessionID)
		}
	}
}

// MembersOf returns the session ids currently in the room, or nil when the
// room does not exist.
func (r *Registry) MembersOf(roomID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	members := make([]string, 0, len(room))
	for sessionID := range room {
		members = append(members, sessionID)
	}
	return members
}

// RoomCount reports how many rooms currently have at least one member.
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}
