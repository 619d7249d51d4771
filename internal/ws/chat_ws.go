package ws

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"

	"chat-sync/internal/conversation"
	"chat-sync/internal/models"
	"chat-sync/internal/observability"
)

// SessionOpener starts a live conversation session for a viewer.
type SessionOpener interface {
	Open(ctx context.Context, viewerID, conversationID string) (<-chan models.View, error)
}

// ChatWebSocketHandler streams the ordered view of one conversation.
type ChatWebSocketHandler struct {
	hub      *Hub
	sessions SessionOpener
	tokens   TokenValidator
	logger   *slog.Logger
}

// NewChatWebSocketHandler constructs a ChatWebSocketHandler.
func NewChatWebSocketHandler(hub *Hub, sessions SessionOpener, tokens TokenValidator, logger *slog.Logger) *ChatWebSocketHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatWebSocketHandler{hub: hub, sessions: sessions, tokens: tokens, logger: logger}
}

// Handle upgrades the connection and streams snapshots until either side
// closes.
func (h *ChatWebSocketHandler) Handle(c *gin.Context) {
	chatID := c.Param("chat_id")
	if _, _, err := conversation.Participants(chatID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat id"})
		return
	}

	ctx, span := otel.Tracer("chat-sync/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, err := h.tokens.Validate(tokenFromRequest(c.Request))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	if !conversation.Includes(chatID, userID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not authorized for chat"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	connCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	views, err := h.sessions.Open(connCtx, userID, chatID)
	if err != nil {
		cancel()
		h.logger.Warn("chat session failed to open", "chat_id", chatID, "user_id", userID, "error", err)
		writeError(conn, models.ChatEvent{Type: "error", ConversationID: chatID, Error: "conversation unavailable"})
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
	client := h.hub.Add(kindChat, chatID, conn, info)
	h.logger.Info("chat stream opened", "chat_id", chatID, "user_id", userID, "conn_id", info.ConnID)

	serve(connCtx, cancel, h.hub, client, views, func(view models.View) any {
		return models.ChatEvent{Type: "snapshot", ConversationID: view.ConversationID, Messages: view.Messages}
	}, nil)
}
