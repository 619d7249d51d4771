// Package messages owns the live ordered view of a conversation and the
// guarded mutations on its records.
package messages

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"chat-sync/internal/conversation"
	"chat-sync/internal/latest"
	"chat-sync/internal/models"
	"chat-sync/internal/observability"
	"chat-sync/internal/tree"
)

const root = "chats"

// ReadGate reports whether a viewer is actively reading a conversation.
type ReadGate interface {
	Viewing(ctx context.Context, userID, conversationID string) (bool, error)
}

type Synchronizer struct {
	store            tree.Store
	logger           *slog.Logger
	gate             ReadGate
	senderOnlyDelete bool
}

type Option func(*Synchronizer)

// WithReadGate makes MarkRead a no-op unless gate says the viewer is on
// the conversation screen.
func WithReadGate(gate ReadGate) Option {
	return func(s *Synchronizer) { s.gate = gate }
}

// WithSenderOnlyDelete refuses deletes from anyone but the author.
func WithSenderOnlyDelete() Option {
	return func(s *Synchronizer) { s.senderOnlyDelete = true }
}

func NewSynchronizer(store tree.Store, logger *slog.Logger, opts ...Option) *Synchronizer {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Synchronizer{store: store, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func conversationPath(id string) (string, error) {
	if _, _, err := conversation.Participants(id); err != nil {
		return "", err
	}
	return tree.Join(root, id), nil
}

func messagePath(conversationID, messageID string) (string, error) {
	base, err := conversationPath(conversationID)
	if err != nil {
		return "", err
	}
	if messageID == "" || strings.Contains(messageID, "/") || tree.Validate(messageID) != nil {
		return "", fmt.Errorf("%w: bad message id %q", models.ErrValidation, messageID)
	}
	return tree.Join(base, messageID), nil
}

// Subscribe streams the ordered view of conversationID, starting with its
// current state. The channel keeps only the newest view and is closed
// once ctx is done. Failed refreshes are logged and the last view stands.
func (s *Synchronizer) Subscribe(ctx context.Context, conversationID string) (<-chan models.View, error) {
	path, err := conversationPath(conversationID)
	if err != nil {
		return nil, err
	}
	out := make(chan models.View, 1)
	cancel, err := s.store.Subscribe(path, func(snap tree.Snapshot, err error) {
		if err != nil {
			s.logger.Warn("conversation refresh failed", "chat_id", conversationID, "error", err)
			return
		}
		latest.Send(out, conversation.NewView(conversationID, snap))
	})
	if err != nil {
		return nil, err
	}
	go func() {
		<-ctx.Done()
		cancel()
		close(out)
	}()
	return out, nil
}

// Snapshot reads the ordered view once.
func (s *Synchronizer) Snapshot(ctx context.Context, conversationID string) (models.View, error) {
	path, err := conversationPath(conversationID)
	if err != nil {
		return models.View{}, err
	}
	snap, err := s.store.Read(ctx, path)
	if err != nil {
		return models.View{}, err
	}
	return conversation.NewView(conversationID, snap), nil
}

// Send appends a message stamped with the store clock and returns its id.
func (s *Synchronizer) Send(ctx context.Context, conversationID, senderID, body string) (string, error) {
	id, err := s.send(ctx, conversationID, senderID, body)
	observability.ObserveMessageOp("send", err)
	return id, err
}

func (s *Synchronizer) send(ctx context.Context, conversationID, senderID, body string) (string, error) {
	if strings.TrimSpace(body) == "" {
		return "", fmt.Errorf("%w: message body is empty", models.ErrValidation)
	}
	path, err := conversationPath(conversationID)
	if err != nil {
		return "", err
	}
	if !conversation.Includes(conversationID, senderID) {
		return "", fmt.Errorf("%w: %s is not in %s", models.ErrPermissionDenied, senderID, conversationID)
	}
	return s.store.Push(ctx, path, map[string]any{
		"senderId":  senderID,
		"message":   body,
		"timestamp": tree.ServerTimestamp,
		"read":      false,
	})
}

// Edit replaces the body of a message written by senderID. The author
// check reads before writing; a message deleted in between is reported as
// not found and stays deleted.
func (s *Synchronizer) Edit(ctx context.Context, conversationID, messageID, senderID, body string) error {
	err := s.edit(ctx, conversationID, messageID, senderID, body)
	observability.ObserveMessageOp("edit", err)
	return err
}

func (s *Synchronizer) edit(ctx context.Context, conversationID, messageID, senderID, body string) error {
	if strings.TrimSpace(body) == "" {
		return fmt.Errorf("%w: message body is empty", models.ErrValidation)
	}
	path, err := messagePath(conversationID, messageID)
	if err != nil {
		return err
	}
	msg, err := s.load(ctx, path)
	if err != nil {
		return err
	}
	if msg.SenderID != senderID {
		return fmt.Errorf("%w: only the sender may edit", models.ErrPermissionDenied)
	}
	n, err := s.store.Update(ctx, path, map[string]any{"message": body})
	if err != nil {
		return err
	}
	if n == 0 {
		return models.ErrMessageNotFound
	}
	return nil
}

// Delete removes a message. Unless built WithSenderOnlyDelete it does not
// check who is asking.
func (s *Synchronizer) Delete(ctx context.Context, conversationID, messageID, requesterID string) error {
	err := s.delete(ctx, conversationID, messageID, requesterID)
	observability.ObserveMessageOp("delete", err)
	return err
}

func (s *Synchronizer) delete(ctx context.Context, conversationID, messageID, requesterID string) error {
	path, err := messagePath(conversationID, messageID)
	if err != nil {
		return err
	}
	if s.senderOnlyDelete {
		msg, err := s.load(ctx, path)
		if err != nil {
			return err
		}
		if msg.SenderID != requesterID {
			return fmt.Errorf("%w: only the sender may delete", models.ErrPermissionDenied)
		}
	}
	if err := s.store.Delete(ctx, path); err != nil {
		return err
	}
	s.logger.Info("message deleted", "chat_id", conversationID, "message_id", messageID, "requester_id", requesterID)
	return nil
}

// MarkRead flags the listed messages read when they were written by the
// other participant and are still unread, in one update. Messages deleted
// meanwhile are skipped. It returns how many flipped.
func (s *Synchronizer) MarkRead(ctx context.Context, conversationID string, messageIDs []string, viewerID string) (int, error) {
	n, err := s.markRead(ctx, conversationID, messageIDs, viewerID)
	observability.ObserveMessageOp("mark_read", err)
	if n > 0 {
		observability.AddMessagesMarkedRead(n)
	}
	return n, err
}

func (s *Synchronizer) markRead(ctx context.Context, conversationID string, messageIDs []string, viewerID string) (int, error) {
	path, err := conversationPath(conversationID)
	if err != nil {
		return 0, err
	}
	if !conversation.Includes(conversationID, viewerID) {
		return 0, fmt.Errorf("%w: %s is not in %s", models.ErrPermissionDenied, viewerID, conversationID)
	}
	if len(messageIDs) == 0 {
		return 0, nil
	}
	if s.gate != nil {
		viewing, err := s.gate.Viewing(ctx, viewerID, conversationID)
		if err != nil {
			return 0, err
		}
		if !viewing {
			s.logger.Debug("mark read skipped, viewer not on conversation", "chat_id", conversationID, "viewer_id", viewerID)
			return 0, nil
		}
	}

	snap, err := s.store.Read(ctx, path)
	if err != nil {
		return 0, err
	}
	byID := make(map[string]models.Message)
	for _, msg := range conversation.Messages(snap.Value) {
		byID[msg.ID] = msg
	}

	fields := make(map[string]any)
	for _, id := range messageIDs {
		msg, ok := byID[id]
		if !ok || msg.SenderID == viewerID || msg.Read {
			continue
		}
		fields[tree.Join(id, "read")] = true
	}
	if len(fields) == 0 {
		return 0, nil
	}
	return s.store.Update(ctx, path, fields)
}

func (s *Synchronizer) load(ctx context.Context, path string) (models.Message, error) {
	snap, err := s.store.Read(ctx, path)
	if err != nil {
		return models.Message{}, err
	}
	if !snap.Exists {
		return models.Message{}, models.ErrMessageNotFound
	}
	var msg models.Message
	if err := snap.Decode(&msg); err != nil {
		return models.Message{}, fmt.Errorf("decode message %s: %w", path, err)
	}
	return msg, nil
}

// UnreadFrom returns the ids in view written by someone other than viewer
// and not yet read.
func UnreadFrom(view models.View, viewerID string) []string {
	var ids []string
	for _, msg := range view.Messages {
		if msg.SenderID != viewerID && !msg.Read {
			ids = append(ids, msg.ID)
		}
	}
	return ids
}
