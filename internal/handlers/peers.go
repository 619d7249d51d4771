package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-sync/internal/models"
)

// DirectoryService lists the peers shown on the home screen.
type DirectoryService interface {
	ListPeers(ctx context.Context, viewerID, query string) ([]models.PeerEntry, error)
}

type PeersHandler struct {
	directory DirectoryService
}

func NewPeersHandler(directory DirectoryService) *PeersHandler {
	return &PeersHandler{directory: directory}
}

// ListPeers returns every other user with their unread count, filtered by
// ?q= against username or phone.
func (h *PeersHandler) ListPeers(c *gin.Context) {
	peers, err := h.directory.ListPeers(c.Request.Context(), c.GetString("userID"), c.Query("q"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"peers": peers})
}
