package realtime

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"
)

// Saver persists a document's full content. It is the only I/O the sync
// layer performs.
type Saver func(ctx context.Context, documentID string, content json.RawMessage) error

type docState int

const (
	docIdle docState = iota
	docDirty
	docPersisting
)

type docSession struct {
	state   docState
	content json.RawMessage
	timer   *time.Timer
	// set when an edit arrives while a persist is in flight, so the latest
	// content is never dropped
	dirtyAgain bool
}

// DocSync coalesces collaborative edits per document. Every inbound edit is
// rebroadcast to the document room immediately; persistence is debounced so a
// burst of keystrokes becomes one write. Content replication is whole-content
// last-write-wins: concurrent edits from two clients race and the last one
// applied survives. That is the intended behavior, not a conflict to merge.
type DocSync struct {
	hub      *Hub
	save     Saver
	debounce time.Duration

	mu   sync.Mutex
	docs map[string]*docSession
}

func NewDocSync(hub *Hub, save Saver, debounce time.Duration) *DocSync {
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	return &DocSync{
		hub:      hub,
		save:     save,
		debounce: debounce,
		docs:     make(map[string]*docSession),
	}
}

// Apply handles one document_change from a session: rebroadcast to everyone
// else in the document's room, then arm (or re-arm) the persist timer.
func (d *DocSync) Apply(sessionID, documentID string, content json.RawMessage) {
	if err := d.hub.Broadcast(documentID, EventDocumentChange, content, sessionID); err != nil {
		log.Printf("docsync: broadcast %s: %v", documentID, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	doc, ok := d.docs[documentID]
	if !ok {
		doc = &docSession{}
		d.docs[documentID] = doc
	}
	doc.content = content

	switch doc.state {
	case docPersisting:
		// A write is in flight; remember to persist again when it finishes.
		doc.dirtyAgain = true
	case docDirty:
		doc.timer.Stop()
		doc.timer = time.AfterFunc(d.debounce, func() { d.flush(documentID) })
	default:
		doc.state = docDirty
		doc.timer = time.AfterFunc(d.debounce, func() { d.flush(documentID) })
	}
}

func (d *DocSync) flush(documentID string) {
	d.mu.Lock()
	doc, ok := d.docs[documentID]
	if !ok || doc.state != docDirty {
		d.mu.Unlock()
		return
	}
	doc.state = docPersisting
	content := doc.content
	d.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	err := d.save(ctx, documentID, content)
	cancel()
	if err != nil {
		log.Printf("docsync: persist %s: %v", documentID, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	doc, ok = d.docs[documentID]
	if !ok {
		return
	}
	if doc.dirtyAgain {
		doc.dirtyAgain = false
		doc.state = docDirty
		doc.timer = time.AfterFunc(d.debounce, func() { d.flush(documentID) })
		return
	}
	doc.state = docIdle
	delete(d.docs, documentID)
}

// Flush writes out every pending snapshot immediately. Called on shutdown so
// the debounce window does not swallow the final edit.
func (d *DocSync) Flush(ctx context.Context) {
	d.mu.Lock()
	pending := make(map[string]json.RawMessage)
	for documentID, doc := range d.docs {
		if doc.state == docDirty {
			doc.timer.Stop()
			pending[documentID] = doc.content
			delete(d.docs, documentID)
		}
	}
	d.mu.Unlock()

	for documentID, content := range pending {
		if err := d.save(ctx, documentID, content); err != nil {
			log.Printf("docsync: final persist %s: %v", documentID, err)
		}
	}
}

// Pending reports whether a persist is still outstanding for the document.
// The snapshot here is advisory; the store remains the source of truth.
func (d *DocSync) Pending(documentID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.docs[documentID]
	return ok
}
