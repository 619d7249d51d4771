package ws

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"

	"chat-sync/internal/observability"
)

const (
	kindChat = "chat"
	kindHome = "home"
)

// TokenValidator resolves a bearer token to a user id.
type TokenValidator interface {
	Validate(token string) (string, error)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// serve pushes every value from updates to client until the peer hangs up
// or updates is closed. cancel must stop whatever feeds updates. done, if
// set, runs after the connection is torn down.
func serve[T any](ctx context.Context, cancel context.CancelFunc, hub *Hub, client *Client, updates <-chan T, toEvent func(T) any, done func()) {
	observability.IncWSActive(client.kind)
	hub.Publish(ctx, client, "ws_connect", "")

	reasons := make(chan string, 1)
	go func() {
		defer cancel()
		for {
			if _, _, err := client.conn.ReadMessage(); err != nil {
				reason := err.Error()
				if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					hub.Publish(ctx, client, "ws_error", reason)
				}
				reasons <- reason
				return
			}
		}
	}()

	go func() {
		defer func() {
			var reason string
			select {
			case reason = <-reasons:
			default:
			}
			if hub.Remove(client) {
				hub.Publish(ctx, client, "ws_disconnect", reason)
			}
			observability.DecWSActive(client.kind)
			client.conn.Close()
			if done != nil {
				done()
			}
		}()
		for update := range updates {
			if err := hub.Send(client, toEvent(update)); err != nil {
				cancel()
			}
		}
	}()
}

func writeError(conn *websocket.Conn, event any) {
	_ = conn.WriteJSON(event)
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "stream unavailable"))
	conn.Close()
}
