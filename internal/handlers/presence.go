package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-sync/internal/conversation"
	"chat-sync/internal/models"
)

// PresenceService is the presence tracker.
type PresenceService interface {
	EnterScreen(ctx context.Context, userID string, screen models.Screen, conversationID string) error
	LeaveScreen(ctx context.Context, userID string, fallback models.Screen) error
}

type PresenceHandler struct {
	presence PresenceService
}

func NewPresenceHandler(presence PresenceService) *PresenceHandler {
	return &PresenceHandler{presence: presence}
}

// EnterScreen records the screen the caller is on.
func (h *PresenceHandler) EnterScreen(c *gin.Context) {
	var req struct {
		Screen models.Screen `json:"screen" binding:"required"`
		ChatID string        `json:"chat_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetString("userID")
	if req.Screen == models.ScreenChat && req.ChatID != "" && !conversation.Includes(req.ChatID, userID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a chat member"})
		return
	}
	if err := h.presence.EnterScreen(c.Request.Context(), userID, req.Screen, req.ChatID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// LeaveScreen marks the caller inactive on ?fallback= (home or away,
// default away).
func (h *PresenceHandler) LeaveScreen(c *gin.Context) {
	fallback := models.Screen(c.DefaultQuery("fallback", string(models.ScreenAway)))
	if err := h.presence.LeaveScreen(c.Request.Context(), c.GetString("userID"), fallback); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
