// Package unread counts, per peer, the messages a viewer has not read yet.
package unread

import (
	"context"
	"log/slog"

	"chat-sync/internal/conversation"
	"chat-sync/internal/latest"
	"chat-sync/internal/models"
	"chat-sync/internal/tree"
)

const root = "chats"

// Compute returns peer id -> unread count for viewerID. Peers with nothing
// unread are absent. Conversations viewerID is not part of, and ids that
// do not parse, are ignored.
func Compute(viewerID string, conversations map[string][]models.Message) map[string]int {
	counts := make(map[string]int)
	for id, msgs := range conversations {
		peer, ok := conversation.PeerOf(id, viewerID)
		if !ok {
			continue
		}
		for _, msg := range msgs {
			if msg.SenderID != viewerID && !msg.Read {
				counts[peer]++
			}
		}
	}
	return counts
}

type Aggregator struct {
	store  tree.Store
	logger *slog.Logger
}

func NewAggregator(store tree.Store, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{store: store, logger: logger}
}

// Counts reads every conversation once and computes viewerID's counts.
func (a *Aggregator) Counts(ctx context.Context, viewerID string) (map[string]int, error) {
	snap, err := a.store.Read(ctx, root)
	if err != nil {
		return nil, err
	}
	return Compute(viewerID, conversation.All(snap.Value)), nil
}

// Watch recomputes viewerID's counts on every change under chats/. When
// the store cannot be read the previous map stays current and nothing is
// sent. The channel is closed once ctx is done.
func (a *Aggregator) Watch(ctx context.Context, viewerID string) (<-chan map[string]int, error) {
	out := make(chan map[string]int, 1)
	cancel, err := a.store.Subscribe(root, func(snap tree.Snapshot, err error) {
		if err != nil {
			a.logger.Warn("unread refresh failed, keeping previous counts", "viewer_id", viewerID, "error", err)
			return
		}
		latest.Send(out, Compute(viewerID, conversation.All(snap.Value)))
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
