package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"chat-sync/internal/models"
)

// IdentityService registers and signs in users.
type IdentityService interface {
	Login(ctx context.Context, username, phone string) (models.User, error)
}

// TokenIssuer mints bearer tokens.
type TokenIssuer interface {
	Issue(userID string) (string, time.Time, error)
}

type LoginHandler struct {
	identity IdentityService
	tokens   TokenIssuer
	logger   *slog.Logger
}

func NewLoginHandler(identity IdentityService, tokens TokenIssuer, logger *slog.Logger) *LoginHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoginHandler{identity: identity, tokens: tokens, logger: logger}
}

// Login signs in by username and phone, registering new users on first
// use.
func (h *LoginHandler) Login(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Phone    string `json:"phone" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.identity.Login(c.Request.Context(), req.Username, req.Phone)
	if err != nil {
		respondError(c, err)
		return
	}

	token, expires, err := h.tokens.Issue(user.ID)
	if err != nil {
		h.logger.Error("token issue failed", "user_id", user.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not issue token"})
		return
	}

	h.logger.Info("user logged in", "user_id", user.ID)
	c.JSON(http.StatusOK, gin.H{"token": token, "expires_at": expires.UTC(), "user": user})
}
