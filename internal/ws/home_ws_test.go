package ws

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-sync/internal/mocks"
	"chat-sync/internal/models"
	"chat-sync/internal/presence"
)

type fakeDirectory struct {
	entries chan []models.PeerEntry
	query   chan string
}

func (f *fakeDirectory) Watch(ctx context.Context, viewerID, query string) (<-chan []models.PeerEntry, error) {
	f.query <- query
	out := make(chan []models.PeerEntry, 1)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case e := <-f.entries:
				select {
				case out <- e:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func presenceFields(screen models.Screen, active bool) map[string]any {
	return map[string]any{"currentScreen": string(screen), "currentChatId": nil, "isActive": active}
}

func newHomeServer(t *testing.T, tracker *presence.Tracker, dir DirectoryWatcher) (*httptest.Server, *Hub) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	hub := NewHub(nil)
	handler := NewHomeWebSocketHandler(hub, tracker, dir, staticTokens{"tok-alice": "alice"}, nil)
	r := gin.New()
	r.GET("/ws/home", handler.Handle)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, hub
}

func TestHomeWebSocketStreamsPeersAndReleasesToAway(t *testing.T) {
	users := new(mocks.UserWriterMock)
	users.On("PatchUser", mock.Anything, "alice", presenceFields(models.ScreenHome, true)).Return(nil).Once()
	away := make(chan struct{})
	users.On("PatchUser", mock.Anything, "alice", presenceFields(models.ScreenAway, false)).
		Run(func(mock.Arguments) { close(away) }).Return(nil).Once()
	tracker := presence.NewTracker(users, nil)
	dir := &fakeDirectory{entries: make(chan []models.PeerEntry, 1), query: make(chan string, 1)}
	srv, hub := newHomeServer(t, tracker, dir)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws/home?token=tok-alice&q=bo"), nil)
	require.NoError(t, err)
	assert.Equal(t, "bo", <-dir.query)

	dir.entries <- []models.PeerEntry{{Peer: models.User{ID: "bob", Username: "bob"}, UnreadCount: 3}}

	var event models.PeersEvent
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, "peers", event.Type)
	require.Len(t, event.Peers, 1)
	assert.Equal(t, 3, event.Peers[0].UnreadCount)
	assert.Equal(t, presence.State{Screen: models.ScreenHome, Active: true}, tracker.Current("alice"))

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	conn.Close()

	select {
	case <-away:
	case <-time.After(2 * time.Second):
		t.Fatal("presence not released to away after disconnect")
	}
	assert.Equal(t, presence.State{Screen: models.ScreenAway}, tracker.Current("alice"))
	assert.Eventually(t, func() bool { return hub.Count(kindHome) == 0 }, 2*time.Second, 10*time.Millisecond)
	users.AssertExpectations(t)
}

func TestHomeWebSocketRejectsBadToken(t *testing.T) {
	users := new(mocks.UserWriterMock)
	srv, _ := newHomeServer(t, presence.NewTracker(users, nil), &fakeDirectory{})

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws/home?token=nope"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 401, resp.StatusCode)
	users.AssertNotCalled(t, "PatchUser", mock.Anything, mock.Anything, mock.Anything)
}
