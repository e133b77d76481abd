package realtime

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
)

// Event names delivered to clients. They mirror what the web client listens
// for, so renaming one is a breaking protocol change.
const (
	EventTaskCreated     = "task_created"
	EventTaskUpdated     = "task_updated"
	EventTaskDeleted     = "task_deleted"
	EventReceiveMessage  = "receive_message"
	EventMessageDeleted  = "message_deleted"
	EventMessagesDeleted = "messages_deleted"
	EventDocumentChange  = "receive_document_change"
)

// Envelope is the wire format for every outbound event.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Session is one connected client's ordered outbound channel. TrySend must
// not block: a session that cannot accept the payload reports false and the
// event is dropped for it (best-effort delivery).
type Session interface {
	SessionID() string
	TrySend(payload []byte) bool
}

// Hub fans events out to the members of a room. Delivery is at-most-once and
// fire-and-forget; per room, events submitted through one Hub are handed to
// each session's ordered channel in submission order.
type Hub struct {
	mu       sync.RWMutex
	registry *Registry
	sessions map[string]Session
}

func NewHub() *Hub {
	return &Hub{
		registry: NewRegistry(),
		sessions: make(map[string]Session),
	}
}

func (h *Hub) Registry() *Registry {
	return h.registry
}

func (h *Hub) Register(session Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[session.SessionID()] = session
}

// Unregister drops the session and clears all of its room memberships.
func (h *Hub) Unregister(sessionID string) {
	h.mu.Lock()
	delete(h.sessions, sessionID)
	h.mu.Unlock()
	h.registry.LeaveAll(sessionID)
}

func (h *Hub) Join(sessionID, roomID string) {
	h.registry.Join(sessionID, roomID)
}

func (h *Hub) Leave(sessionID, roomID string) {
	h.registry.Leave(sessionID, roomID)
}

// Broadcast delivers (event, payload) to every member of the room except
// excludeSession. Sessions that are gone or whose buffers are full are
// skipped silently; their cleanup belongs to disconnect handling. The only
// error is a payload that cannot be marshaled, which is a programming error
// on the caller's side.
func (h *Hub) Broadcast(roomID, event string, payload any, excludeSession string) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event, err)
	}
	encoded, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("marshal %s envelope: %w", event, err)
	}

	// Holding the write lock while handing the payload to each session's
	// channel keeps the per-room FIFO guarantee: two broadcasts cannot
	// interleave their deliveries.
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sessionID := range h.registry.MembersOf(roomID) {
		if sessionID == excludeSession {
			continue
		}
		session, ok := h.sessions[sessionID]
		if !ok {
			continue
		}
		if !session.TrySend(encoded) {
			log.Printf("realtime: dropped %s for slow session %s in room %s", event, sessionID, roomID)
		}
	}
	return nil
}
