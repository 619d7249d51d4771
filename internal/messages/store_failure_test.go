package messages

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-sync/internal/mocks"
	"chat-sync/internal/models"
	"chat-sync/internal/tree"
)

func unavailable() error {
	return fmt.Errorf("read chats/alice_bob: %w", tree.ErrUnavailable)
}

func TestSendSurfacesStoreUnavailable(t *testing.T) {
	store := new(mocks.StoreMock)
	sync := NewSynchronizer(store, nil)

	store.On("Push", mock.Anything, "chats/alice_bob", mock.Anything).Return("", unavailable()).Once()

	_, err := sync.Send(context.Background(), chat, "alice", "hola")
	assert.ErrorIs(t, err, models.ErrStoreUnavailable)
	store.AssertExpectations(t)
}

func TestEditDoesNotWriteWhenReadFails(t *testing.T) {
	store := new(mocks.StoreMock)
	sync := NewSynchronizer(store, nil)

	store.On("Read", mock.Anything, "chats/alice_bob/m1").Return(nil, unavailable()).Once()

	err := sync.Edit(context.Background(), chat, "m1", "alice", "fixed")
	assert.ErrorIs(t, err, models.ErrStoreUnavailable)
	store.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything)
}

func TestMarkReadPatchesOnlyPeerUnread(t *testing.T) {
	store := new(mocks.StoreMock)
	sync := NewSynchronizer(store, nil)

	store.On("Read", mock.Anything, "chats/alice_bob").Return(tree.Snapshot{Exists: true, Value: map[string]any{
		"m1": map[string]any{"senderId": "bob", "message": "a", "timestamp": int64(1), "read": false},
		"m2": map[string]any{"senderId": "alice", "message": "b", "timestamp": int64(2), "read": false},
		"m3": map[string]any{"senderId": "bob", "message": "c", "timestamp": int64(3), "read": true},
	}}, nil).Once()
	store.On("Update", mock.Anything, "chats/alice_bob", map[string]any{"m1/read": true}).Return(0, unavailable()).Once()

	n, err := sync.MarkRead(context.Background(), chat, []string{"m1", "m2", "m3", "missing"}, "alice")
	require.ErrorIs(t, err, models.ErrStoreUnavailable)
	assert.Zero(t, n)
	store.AssertExpectations(t)
}

func TestSubscribeRejectsBadConversationWithoutTouchingStore(t *testing.T) {
	store := new(mocks.StoreMock)
	sync := NewSynchronizer(store, nil)

	_, err := sync.Subscribe(context.Background(), "alice")
	assert.ErrorIs(t, err, models.ErrInvalidParticipant)
	store.AssertNotCalled(t, "Subscribe", mock.Anything, mock.Anything)
}

// deletingStore removes a message right before the next conditional update,
// as a concurrent delete from the other participant would.
type deletingStore struct {
	tree.Store
	victim string
}

func (d *deletingStore) Update(ctx context.Context, path string, fields map[string]any) (int, error) {
	if d.victim != "" {
		if err := d.Store.Delete(ctx, d.victim); err != nil {
			return 0, err
		}
		d.victim = ""
	}
	return d.Store.Update(ctx, path, fields)
}

func TestDeleteRacingMarkReadLeavesNoRecord(t *testing.T) {
	ctx := context.Background()
	store := &deletingStore{Store: tree.New(tree.NewMemory())}
	sync := NewSynchronizer(store, nil)

	id, err := sync.Send(ctx, chat, "alice", "hola")
	require.NoError(t, err)
	store.victim = "chats/alice_bob/" + id

	n, err := sync.MarkRead(ctx, chat, []string{id}, "bob")
	require.NoError(t, err)
	assert.Zero(t, n)

	view, err := sync.Snapshot(ctx, chat)
	require.NoError(t, err)
	assert.Empty(t, view.Messages)
}

func TestDeleteRacingEditReportsNotFound(t *testing.T) {
	ctx := context.Background()
	store := &deletingStore{Store: tree.New(tree.NewMemory())}
	sync := NewSynchronizer(store, nil)

	id, err := sync.Send(ctx, chat, "alice", "hola")
	require.NoError(t, err)
	store.victim = "chats/alice_bob/" + id

	err = sync.Edit(ctx, chat, id, "alice", "edited")
	assert.ErrorIs(t, err, models.ErrMessageNotFound)

	view, err := sync.Snapshot(ctx, chat)
	require.NoError(t, err)
	assert.Empty(t, view.Messages)
}
