package messages

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-sync/internal/identity"
	"chat-sync/internal/models"
	"chat-sync/internal/presence"
	"chat-sync/internal/tree"
)

func TestMarkReadSeesPresenceFromAnotherProcess(t *testing.T) {
	ctx := context.Background()
	store := tree.New(tree.NewMemory())
	users := identity.NewStore(store, nil)
	require.NoError(t, store.Write(ctx, "users/bob", map[string]any{"username": "bob", "phone": "555"}))

	// Bob's chat screen is held by a tracker in another process; only the
	// user record is shared.
	remote := presence.NewTracker(users, nil)
	local := presence.NewTracker(users, nil, presence.WithRecords(users))
	require.NoError(t, remote.EnterScreen(ctx, "bob", models.ScreenChat, chat))

	s := NewSynchronizer(store, nil, WithReadGate(local))
	id, err := s.Send(ctx, chat, "alice", "hola")
	require.NoError(t, err)

	n, err := s.MarkRead(ctx, chat, []string{id}, "bob")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, remote.LeaveScreen(ctx, "bob", models.ScreenHome))
	id, err = s.Send(ctx, chat, "alice", "again")
	require.NoError(t, err)
	n, err = s.MarkRead(ctx, chat, []string{id}, "bob")
	require.NoError(t, err)
	assert.Zero(t, n)
}
