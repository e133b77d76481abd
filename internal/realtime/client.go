package realtime

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"syncspace/api/internal/util"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 1 << 20 // 1MB; document snapshots ride this channel
	sendBuffer     = 256
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Identity is the verified user behind a connection, supplied by the auth
// layer at upgrade time.
type Identity struct {
	UserID string
	Name   string
	Role   string
}

// Handlers are the app-side callbacks for inbound events. The transport
// performs no persistence itself.
type Handlers struct {
	// CanJoin authorizes a join_workspace / join_document request.
	CanJoin func(ctx context.Context, identity Identity, roomID string) bool
	// OnChatMessage handles the legacy send_message path: persist, then the
	// coordinator broadcasts receive_message to the workspace room.
	OnChatMessage func(ctx context.Context, identity Identity, workspaceID, content string)
	// OnDocumentChange feeds an edit into the document sync session.
	OnDocumentChange func(ctx context.Context, sessionID, documentID string, content json.RawMessage)
}

// Client is one websocket connection. Outbound events are queued on an
// ordered buffered channel; a full buffer means the event is dropped for this
// client (best-effort delivery, no backpressure).
type Client struct {
	id       string
	identity Identity
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	handlers Handlers
}

func (c *Client) SessionID() string { return c.id }

func (c *Client) TrySend(payload []byte) bool {
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

type inboundEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type joinPayload struct {
	WorkspaceID string `json:"workspaceId"`
	DocumentID  string `json:"documentId"`
}

type chatPayload struct {
	WorkspaceID string `json:"workspaceId"`
	Content     string `json:"content"`
}

type documentChangePayload struct {
	DocumentID string          `json:"documentId"`
	Content    json.RawMessage `json:"content"`
}

// Serve upgrades the request and runs the connection until it closes. verify
// maps a bearer token (query param for websockets) to an identity.
func Serve(hub *Hub, handlers Handlers, verify func(ctx context.Context, token string) (Identity, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if token == "" {
			token = bearerToken(r)
		}
		identity, err := verify(r.Context(), token)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		client := &Client{
			id:       util.NewID("sess"),
			identity: identity,
			hub:      hub,
			conn:     conn,
			send:     make(chan []byte, sendBuffer),
			handlers: handlers,
		}
		hub.Register(client)

		go client.writePump()
		client.readPump()
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) > 7 && (header[:7] == "Bearer " || header[:7] == "bearer ") {
		return header[7:]
	}
	return ""
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c.id)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		var in inboundEnvelope
		if err := json.Unmarshal(data, &in); err != nil {
			continue
		}
		c.dispatch(in)
	}
}

func (c *Client) dispatch(in inboundEnvelope) {
	ctx := context.Background()
	switch in.Event {
	case "join_workspace":
		var payload joinPayload
		if err := json.Unmarshal(in.Data, &payload); err != nil || payload.WorkspaceID == "" {
			return
		}
		if c.handlers.CanJoin != nil && !c.handlers.CanJoin(ctx, c.identity, payload.WorkspaceID) {
			return
		}
		c.hub.Join(c.id, payload.WorkspaceID)
	case "join_document":
		var payload joinPayload
		if err := json.Unmarshal(in.Data, &payload); err != nil || payload.DocumentID == "" {
			return
		}
		if c.handlers.CanJoin != nil && !c.handlers.CanJoin(ctx, c.identity, payload.DocumentID) {
			return
		}
		c.hub.Join(c.id, payload.DocumentID)
	case "leave_document":
		var payload joinPayload
		if err := json.Unmarshal(in.Data, &payload); err != nil || payload.DocumentID == "" {
			return
		}
		c.hub.Leave(c.id, payload.DocumentID)
	case "send_message":
		var payload chatPayload
		if err := json.Unmarshal(in.Data, &payload); err != nil || payload.Content == "" {
			return
		}
		if c.handlers.OnChatMessage != nil {
			c.handlers.OnChatMessage(ctx, c.identity, payload.WorkspaceID, payload.Content)
		}
	case "document_change":
		var payload documentChangePayload
		if err := json.Unmarshal(in.Data, &payload); err != nil || payload.DocumentID == "" {
			return
		}
		if c.handlers.OnDocumentChange != nil {
			c.handlers.OnDocumentChange(ctx, c.id, payload.DocumentID, payload.Content)
		}
	default:
		log.Printf("realtime: unknown inbound event %q from %s", in.Event, c.id)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
