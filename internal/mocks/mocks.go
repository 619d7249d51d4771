package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"chat-sync/internal/models"
	"chat-sync/internal/tree"
)

type StoreMock struct {
	mock.Mock
}

func (m *StoreMock) Read(ctx context.Context, path string) (tree.Snapshot, error) {
	args := m.Called(ctx, path)
	var snap tree.Snapshot
	if val := args.Get(0); val != nil {
		snap = val.(tree.Snapshot)
	}
	return snap, args.Error(1)
}

func (m *StoreMock) Write(ctx context.Context, path string, value any) error {
	args := m.Called(ctx, path, value)
	return args.Error(0)
}

func (m *StoreMock) Patch(ctx context.Context, path string, fields map[string]any) error {
	args := m.Called(ctx, path, fields)
	return args.Error(0)
}

func (m *StoreMock) Update(ctx context.Context, path string, fields map[string]any) (int, error) {
	args := m.Called(ctx, path, fields)
	return args.Int(0), args.Error(1)
}

func (m *StoreMock) Delete(ctx context.Context, path string) error {
	args := m.Called(ctx, path)
	return args.Error(0)
}

func (m *StoreMock) Push(ctx context.Context, path string, value any) (string, error) {
	args := m.Called(ctx, path, value)
	return args.String(0), args.Error(1)
}

func (m *StoreMock) Subscribe(path string, fn tree.Listener) (func(), error) {
	args := m.Called(path, fn)
	var cancel func()
	if val := args.Get(0); val != nil {
		cancel = val.(func())
	}
	return cancel, args.Error(1)
}

func (m *StoreMock) Now(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

type UserWriterMock struct {
	mock.Mock
}

func (m *UserWriterMock) PatchUser(ctx context.Context, id string, fields map[string]any) error {
	args := m.Called(ctx, id, fields)
	return args.Error(0)
}

type UserLookupMock struct {
	mock.Mock
}

func (m *UserLookupMock) Get(ctx context.Context, id string) (models.User, error) {
	args := m.Called(ctx, id)
	var user models.User
	if val := args.Get(0); val != nil {
		user = val.(models.User)
	}
	return user, args.Error(1)
}

type MessageServiceMock struct {
	mock.Mock
}

func (m *MessageServiceMock) Snapshot(ctx context.Context, conversationID string) (models.View, error) {
	args := m.Called(ctx, conversationID)
	var view models.View
	if val := args.Get(0); val != nil {
		view = val.(models.View)
	}
	return view, args.Error(1)
}

func (m *MessageServiceMock) Send(ctx context.Context, conversationID, senderID, body string) (string, error) {
	args := m.Called(ctx, conversationID, senderID, body)
	return args.String(0), args.Error(1)
}

func (m *MessageServiceMock) Edit(ctx context.Context, conversationID, messageID, senderID, body string) error {
	args := m.Called(ctx, conversationID, messageID, senderID, body)
	return args.Error(0)
}

func (m *MessageServiceMock) Delete(ctx context.Context, conversationID, messageID, requesterID string) error {
	args := m.Called(ctx, conversationID, messageID, requesterID)
	return args.Error(0)
}

func (m *MessageServiceMock) MarkRead(ctx context.Context, conversationID string, messageIDs []string, viewerID string) (int, error) {
	args := m.Called(ctx, conversationID, messageIDs, viewerID)
	return args.Int(0), args.Error(1)
}

type DirectoryServiceMock struct {
	mock.Mock
}

func (m *DirectoryServiceMock) ListPeers(ctx context.Context, viewerID, query string) ([]models.PeerEntry, error) {
	args := m.Called(ctx, viewerID, query)
	var peers []models.PeerEntry
	if val := args.Get(0); val != nil {
		peers = val.([]models.PeerEntry)
	}
	return peers, args.Error(1)
}

type PresenceServiceMock struct {
	mock.Mock
}

func (m *PresenceServiceMock) EnterScreen(ctx context.Context, userID string, screen models.Screen, conversationID string) error {
	args := m.Called(ctx, userID, screen, conversationID)
	return args.Error(0)
}

func (m *PresenceServiceMock) LeaveScreen(ctx context.Context, userID string, fallback models.Screen) error {
	args := m.Called(ctx, userID, fallback)
	return args.Error(0)
}

type IdentityServiceMock struct {
	mock.Mock
}

func (m *IdentityServiceMock) Login(ctx context.Context, username, phone string) (models.User, error) {
	args := m.Called(ctx, username, phone)
	var user models.User
	if val := args.Get(0); val != nil {
		user = val.(models.User)
	}
	return user, args.Error(1)
}
