package messages

import (
	"context"
	"fmt"
	"log/slog"

	"chat-sync/internal/conversation"
	"chat-sync/internal/latest"
	"chat-sync/internal/models"
)

// Presence is the slice of the presence tracker a session needs.
type Presence interface {
	Acquire(ctx context.Context, userID string, screen models.Screen, conversationID string, fallback models.Screen) (func(), error)
}

// Sessions opens conversation screens: presence held on chat, the live
// view streamed, and the peer's messages marked read as they arrive.
type Sessions struct {
	sync     *Synchronizer
	presence Presence
	logger   *slog.Logger
}

func NewSessions(sync *Synchronizer, presence Presence, logger *slog.Logger) *Sessions {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sessions{sync: sync, presence: presence, logger: logger}
}

// Open runs a session until ctx is done, then releases presence back to
// home and closes the returned channel.
func (s *Sessions) Open(ctx context.Context, viewerID, conversationID string) (<-chan models.View, error) {
	if _, _, err := conversation.Participants(conversationID); err != nil {
		return nil, err
	}
	if !conversation.Includes(conversationID, viewerID) {
		return nil, fmt.Errorf("%w: %s is not in %s", models.ErrPermissionDenied, viewerID, conversationID)
	}

	release, err := s.presence.Acquire(ctx, viewerID, models.ScreenChat, conversationID, models.ScreenHome)
	if err != nil {
		return nil, err
	}
	views, err := s.sync.Subscribe(ctx, conversationID)
	if err != nil {
		release()
		return nil, err
	}

	out := make(chan models.View, 1)
	go func() {
		defer close(out)
		defer release()
		for view := range views {
			if unread := UnreadFrom(view, viewerID); len(unread) > 0 {
				n, err := s.sync.MarkRead(ctx, conversationID, unread, viewerID)
				if err != nil {
					s.logger.Warn("auto mark read failed", "chat_id", conversationID, "viewer_id", viewerID, "error", err)
				} else if n > 0 {
					s.logger.Debug("messages marked read", "chat_id", conversationID, "viewer_id", viewerID, "count", n)
				}
			}
			latest.Send(out, view)
		}
	}()
	return out, nil
}
