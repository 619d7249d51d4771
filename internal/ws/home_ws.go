package ws

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"

	"chat-sync/internal/models"
	"chat-sync/internal/observability"
)

// PresenceAcquirer holds a screen for as long as a connection is open.
type PresenceAcquirer interface {
	Acquire(ctx context.Context, userID string, screen models.Screen, conversationID string, fallback models.Screen) (func(), error)
}

// DirectoryWatcher streams the home screen directory.
type DirectoryWatcher interface {
	Watch(ctx context.Context, viewerID, query string) (<-chan []models.PeerEntry, error)
}

// HomeWebSocketHandler streams the peer directory while the user is on
// the home screen.
type HomeWebSocketHandler struct {
	hub       *Hub
	presence  PresenceAcquirer
	directory DirectoryWatcher
	tokens    TokenValidator
	logger    *slog.Logger
}

func NewHomeWebSocketHandler(hub *Hub, presence PresenceAcquirer, directory DirectoryWatcher, tokens TokenValidator, logger *slog.Logger) *HomeWebSocketHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &HomeWebSocketHandler{hub: hub, presence: presence, directory: directory, tokens: tokens, logger: logger}
}

func (h *HomeWebSocketHandler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("chat-sync/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, err := h.tokens.Validate(tokenFromRequest(c.Request))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	query := c.Query("q")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	connCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	release, err := h.presence.Acquire(connCtx, userID, models.ScreenHome, "", models.ScreenAway)
	if err != nil {
		cancel()
		writeError(conn, gin.H{"type": "error", "error": err.Error()})
		return
	}
	peers, err := h.directory.Watch(connCtx, userID, query)
	if err != nil {
		cancel()
		release()
		h.logger.Warn("directory watch failed", "user_id", userID, "error", err)
		writeError(conn, gin.H{"type": "error", "error": "directory unavailable"})
		return
	}

	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      userID,
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	client := h.hub.Add(kindHome, userID, conn, info)

	serve(connCtx, cancel, h.hub, client, peers, func(entries []models.PeerEntry) any {
		return models.PeersEvent{Type: "peers", Peers: entries}
	}, release)
}
