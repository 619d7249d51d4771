package tree

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the pub/sub channel change announcements travel on.
const DefaultChannel = "tree_changes"

// RedisBus fans tree changes out to every process subscribed to channel.
type RedisBus struct {
	rdb     *redis.Client
	channel string
	logger  *slog.Logger
}

// NewRedisBus builds a Bus over an existing client.
func NewRedisBus(rdb *redis.Client, channel string, logger *slog.Logger) *RedisBus {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisBus{rdb: rdb, channel: channel, logger: logger}
}

func (b *RedisBus) Publish(ctx context.Context, change Change) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, payload).Err()
}

// Listen blocks until ctx is done, calling fn for every announcement.
func (b *RedisBus) Listen(ctx context.Context, fn func(Change)) error {
	pubsub := b.rdb.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	b.logger.Info("listening for tree changes", "channel", b.channel)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var change Change
			if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
				b.logger.Warn("malformed tree change", "error", err)
				continue
			}
			fn(change)
		}
	}
}
