package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-sync/internal/conversation"
	"chat-sync/internal/models"
	"chat-sync/internal/observability"
	"chat-sync/internal/telemetry"
)

// MessageService is the message synchronizer as the HTTP API sees it.
type MessageService interface {
	Snapshot(ctx context.Context, conversationID string) (models.View, error)
	Send(ctx context.Context, conversationID, senderID, body string) (string, error)
	Edit(ctx context.Context, conversationID, messageID, senderID, body string) error
	Delete(ctx context.Context, conversationID, messageID, requesterID string) error
	MarkRead(ctx context.Context, conversationID string, messageIDs []string, viewerID string) (int, error)
}

// UserLookup resolves user records.
type UserLookup interface {
	Get(ctx context.Context, id string) (models.User, error)
}

// ChatHandler manages conversation endpoints.
type ChatHandler struct {
	messages MessageService
	users    UserLookup
	audit    *telemetry.AuditEmitter
	logger   *slog.Logger
}

// NewChatHandler builds a ChatHandler.
func NewChatHandler(messages MessageService, users UserLookup, audit *telemetry.AuditEmitter, logger *slog.Logger) *ChatHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatHandler{
		messages: messages,
		users:    users,
		audit:    audit,
		logger:   logger,
	}
}

// StartChat returns the conversation id shared with a peer.
func (h *ChatHandler) StartChat(c *gin.Context) {
	var req struct {
		PeerID string `json:"peer_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetString("userID")
	chatID, err := conversation.ID(userID, req.PeerID)
	if err != nil {
		respondError(c, err)
		return
	}
	if _, err := h.users.Get(c.Request.Context(), req.PeerID); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"chat_id": chatID})
}

// GetChatMessages returns the ordered view of a conversation.
func (h *ChatHandler) GetChatMessages(c *gin.Context) {
	chatID, ok := h.memberChat(c)
	if !ok {
		return
	}

	view, err := h.messages.Snapshot(c.Request.Context(), chatID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, view)
}

// PostChatMessage appends a message. It is accepted, not confirmed: the
// message shows up on the conversation stream.
func (h *ChatHandler) PostChatMessage(c *gin.Context) {
	chatID := c.Param("chat_id")
	var req struct {
		Content string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetString("userID")
	id, err := h.messages.Send(c.Request.Context(), chatID, userID, req.Content)
	if err != nil {
		respondError(c, err)
		return
	}

	h.publish(c, observability.EventMessageSent, "message_sent", gin.H{"chat_id": chatID, "message_id": id, "sender_id": userID})
	c.JSON(http.StatusAccepted, gin.H{"message_id": id})
}

// EditChatMessage replaces the body of the caller's own message.
func (h *ChatHandler) EditChatMessage(c *gin.Context) {
	chatID := c.Param("chat_id")
	messageID := c.Param("message_id")
	var req struct {
		Content string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetString("userID")
	if err := h.messages.Edit(c.Request.Context(), chatID, messageID, userID, req.Content); err != nil {
		respondError(c, err)
		return
	}

	h.publish(c, observability.EventMessageEdited, "message_edited", gin.H{"chat_id": chatID, "message_id": messageID, "sender_id": userID})
	c.Status(http.StatusNoContent)
}

// DeleteChatMessage removes a message for both participants.
func (h *ChatHandler) DeleteChatMessage(c *gin.Context) {
	chatID, ok := h.memberChat(c)
	if !ok {
		return
	}
	messageID := c.Param("message_id")

	userID := c.GetString("userID")
	if err := h.messages.Delete(c.Request.Context(), chatID, messageID, userID); err != nil {
		respondError(c, err)
		return
	}

	h.audit.Emit(c.Request.Context(), "INFO", fmt.Sprintf("message %s deleted from %s", messageID, chatID), requestIDFromContext(c), userIDFromContext(c))
	h.publish(c, observability.EventMessageDeleted, "message_deleted", gin.H{"chat_id": chatID, "message_id": messageID, "requester_id": userID})
	c.Status(http.StatusNoContent)
}

// MarkRead flags the listed peer messages read.
func (h *ChatHandler) MarkRead(c *gin.Context) {
	chatID := c.Param("chat_id")
	var req struct {
		MessageIDs []string `json:"message_ids" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetString("userID")
	n, err := h.messages.MarkRead(c.Request.Context(), chatID, req.MessageIDs, userID)
	if err != nil {
		respondError(c, err)
		return
	}

	if n > 0 {
		h.publish(c, observability.EventMessagesRead, "messages_read", gin.H{"chat_id": chatID, "viewer_id": userID, "count": n})
	}
	c.JSON(http.StatusOK, gin.H{"marked": n})
}

// memberChat validates the chat id path param and the caller's
// membership, writing the error response when either fails.
func (h *ChatHandler) memberChat(c *gin.Context) (string, bool) {
	chatID := c.Param("chat_id")
	if _, _, err := conversation.Participants(chatID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat id"})
		return "", false
	}
	if !conversation.Includes(chatID, c.GetString("userID")) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a chat member"})
		return "", false
	}
	return chatID, true
}

func (h *ChatHandler) publish(c *gin.Context, routingKey, name string, payload gin.H) {
	err := observability.PublishEvent(c.Request.Context(), routingKey, observability.EventEnvelope{
		EventType: "chat_events",
		EventName: name,
		Payload:   payload,
	})
	if err != nil {
		h.logger.Warn("event publish failed", "routing_key", routingKey, "error", err)
	}
}
