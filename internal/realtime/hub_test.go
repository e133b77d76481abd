package realtime

import (
	"encoding/json"
	"testing"
)

// fakeSession collects delivered payloads; full simulates a session whose
// buffer cannot accept more.
type fakeSession struct {
	id       string
	full     bool
	payloads [][]byte
}

func (f *fakeSession) SessionID() string { return f.id }

func (f *fakeSession) TrySend(payload []byte) bool {
	if f.full {
		return false
	}
	f.payloads = append(f.payloads, payload)
	return true
}

func (f *fakeSession) events(t *testing.T) []string {
	t.Helper()
	names := make([]string, 0, len(f.payloads))
	for _, payload := range f.payloads {
		var envelope Envelope
		if err := json.Unmarshal(payload, &envelope); err != nil {
			t.Fatalf("bad envelope: %v", err)
		}
		names = append(names, envelope.Event)
	}
	return names
}

func TestBroadcastReachesRoomMembers(t *testing.T) {
	hub := NewHub()
	a := &fakeSession{id: "sess_a"}
	b := &fakeSession{id: "sess_b"}
	c := &fakeSession{id: "sess_c"}
	for _, sess := range []*fakeSession{a, b, c} {
		hub.Register(sess)
	}
	hub.Join("sess_a", "ws_1")
	hub.Join("sess_b", "ws_1")
	hub.Join("sess_c", "ws_2")

	if err := hub.Broadcast("ws_1", EventReceiveMessage, map[string]string{"id": "msg_1"}, ""); err != nil {
		t.Fatalf("broadcast: %v", err)
	}

	if len(a.payloads) != 1 || len(b.payloads) != 1 {
		t.Fatalf("room members should each receive once, got a=%d b=%d", len(a.payloads), len(b.payloads))
	}
	if len(c.payloads) != 0 {
		t.Fatalf("sess_c is in another room, got %d deliveries", len(c.payloads))
	}
}

func TestBroadcastExcludesSender(t *testing.T) {
	hub := NewHub()
	a := &fakeSession{id: "sess_a"}
	b := &fakeSession{id: "sess_b"}
	hub.Register(a)
	hub.Register(b)
	hub.Join("sess_a", "doc_1")
	hub.Join("sess_b", "doc_1")

	if err := hub.Broadcast("doc_1", EventDocumentChange, json.RawMessage(`{"ops":[]}`), "sess_a"); err != nil {
		t.Fatalf("broadcast: %v", err)
	}

	if len(a.payloads) != 0 {
		t.Fatalf("sender must be excluded, got %d deliveries", len(a.payloads))
	}
	if len(b.payloads) != 1 {
		t.Fatalf("other member should receive once, got %d", len(b.payloads))
	}
}

func TestDoubleJoinDeliversOnce(t *testing.T) {
	hub := NewHub()
	a := &fakeSession{id: "sess_a"}
	hub.Register(a)
	hub.Join("sess_a", "ws_1")
	hub.Join("sess_a", "ws_1")

	if err := hub.Broadcast("ws_1", EventTaskCreated, map[string]string{"id": "task_1"}, ""); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	if len(a.payloads) != 1 {
		t.Fatalf("double join must not duplicate delivery, got %d", len(a.payloads))
	}
}

func TestBroadcastPreservesOrderPerSession(t *testing.T) {
	hub := NewHub()
	a := &fakeSession{id: "sess_a"}
	hub.Register(a)
	hub.Join("sess_a", "ws_1")

	events := []string{EventTaskCreated, EventTaskUpdated, EventTaskDeleted}
	for _, event := range events {
		if err := hub.Broadcast("ws_1", event, map[string]string{}, ""); err != nil {
			t.Fatalf("broadcast %s: %v", event, err)
		}
	}

	got := a.events(t)
	if len(got) != len(events) {
		t.Fatalf("expected %d deliveries, got %d", len(events), len(got))
	}
	for i := range events {
		if got[i] != events[i] {
			t.Fatalf("order broken: expected %v, got %v", events, got)
		}
	}
}

func TestBroadcastSkipsFullSession(t *testing.T) {
	hub := NewHub()
	slow := &fakeSession{id: "sess_slow", full: true}
	fast := &fakeSession{id: "sess_fast"}
	hub.Register(slow)
	hub.Register(fast)
	hub.Join("sess_slow", "ws_1")
	hub.Join("sess_fast", "ws_1")

	if err := hub.Broadcast("ws_1", EventReceiveMessage, map[string]string{}, ""); err != nil {
		t.Fatalf("broadcast must not fail on a full session: %v", err)
	}
	if len(fast.payloads) != 1 {
		t.Fatalf("healthy session should still receive, got %d", len(fast.payloads))
	}
}

func TestBroadcastEmptyRoomIsNoop(t *testing.T) {
	hub := NewHub()
	if err := hub.Broadcast("ws_missing", EventTaskCreated, map[string]string{}, ""); err != nil {
		t.Fatalf("broadcast to empty room: %v", err)
	}
}

func TestUnregisterClearsMemberships(t *testing.T) {
	hub := NewHub()
	a := &fakeSession{id: "sess_a"}
	hub.Register(a)
	hub.Join("sess_a", "ws_1")

	hub.Unregister("sess_a")

	if err := hub.Broadcast("ws_1", EventTaskCreated, map[string]string{}, ""); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	if len(a.payloads) != 0 {
		t.Fatalf("unregistered session must not receive, got %d", len(a.payloads))
	}
	if got := hub.Registry().RoomCount(); got != 0 {
		t.Fatalf("rooms should be pruned after unregister, have %d", got)
	}
}

func TestBroadcastRejectsUnmarshalablePayload(t *testing.T) {
	hub := NewHub()
	if err := hub.Broadcast("ws_1", EventTaskCreated, make(chan int), ""); err == nil {
		t.Fatal("expected marshal error")
	}
}
