package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chat-sync/internal/observability"
)

const writeWait = 10 * time.Second

// Client is one registered websocket connection. Writes are serialized
// because a websocket.Conn supports a single concurrent writer.
type Client struct {
	kind       string
	resourceID string
	conn       *websocket.Conn
	info       ConnInfo
	mu         sync.Mutex
}

// Hub tracks live websocket connections by kind and resource.
type Hub struct {
	rooms  map[string]map[string]map[*Client]struct{}
	mu     sync.RWMutex
	logger *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		rooms:  make(map[string]map[string]map[*Client]struct{}),
		logger: logger,
	}
}

// Add registers conn under kind/resourceID.
func (h *Hub) Add(kind, resourceID string, conn *websocket.Conn, info ConnInfo) *Client {
	client := &Client{kind: kind, resourceID: resourceID, conn: conn, info: info}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[kind]; !ok {
		h.rooms[kind] = make(map[string]map[*Client]struct{})
	}
	if _, ok := h.rooms[kind][resourceID]; !ok {
		h.rooms[kind][resourceID] = make(map[*Client]struct{})
	}
	h.rooms[kind][resourceID][client] = struct{}{}
	return client
}

// Remove unregisters client. It reports whether client was still present.
func (h *Hub) Remove(client *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	byID, ok := h.rooms[client.kind]
	if !ok {
		return false
	}
	conns, ok := byID[client.resourceID]
	if !ok {
		return false
	}
	if _, ok := conns[client]; !ok {
		return false
	}
	delete(conns, client)
	if len(conns) == 0 {
		delete(byID, client.resourceID)
	}
	if len(byID) == 0 {
		delete(h.rooms, client.kind)
	}
	return true
}

// Count returns the number of connections of kind.
func (h *Hub) Count(kind string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, conns := range h.rooms[kind] {
		n += len(conns)
	}
	return n
}

// Send writes event to client as JSON. A failed write closes and
// unregisters the connection.
func (h *Hub) Send(client *Client, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	client.mu.Lock()
	_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
	err = client.conn.WriteMessage(websocket.TextMessage, payload)
	client.mu.Unlock()
	if err != nil {
		h.logger.Warn("websocket write error", "kind", client.kind, "resource_id", client.resourceID, "conn_id", client.info.ConnID, "error", err)
		client.conn.Close()
		if h.Remove(client) {
			h.Publish(context.Background(), client, "ws_error", err.Error())
		}
	}
	return err
}

// CloseAll sends a going-away close frame to every connection.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	var clients []*Client
	for _, byID := range h.rooms {
		for _, conns := range byID {
			for client := range conns {
				clients = append(clients, client)
			}
		}
	}
	h.mu.RUnlock()

	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	for _, client := range clients {
		client.mu.Lock()
		_ = client.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		client.mu.Unlock()
		client.conn.Close()
	}
	h.logger.Info("websocket connections closed", "count", len(clients))
}

// Publish emits a ws lifecycle event for client and counts it.
func (h *Hub) Publish(ctx context.Context, client *Client, event, reason string) {
	info := client.info
	payload := map[string]interface{}{
		"ws": map[string]interface{}{
			"kind":        client.kind,
			"resource_id": client.resourceID,
			"event":       event,
			"conn_id":     info.ConnID,
			"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
			"reason":      reason,
		},
		"identity": map[string]interface{}{
			"user_id": info.UserID,
			"ip":      info.IP,
		},
	}

	ctx = observability.WithRequestID(context.WithoutCancel(ctx), info.RequestID)
	_ = observability.PublishEvent(ctx, wsRoutingKey(client.kind), observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload:   payload,
	})
	observability.IncWSEvent(client.kind, event)
}

func wsRoutingKey(kind string) string {
	if kind == kindHome {
		return observability.EventWSHome
	}
	return observability.EventWSChats
}
