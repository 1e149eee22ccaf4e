package realtime

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace/internal/pkg/jwt"
)

func newServer(t *testing.T, snapshot SnapshotFunc) (*Hub, *jwt.Service, *httptest.Server) {
	t.Helper()
	return newServerWithPresence(t, snapshot, nil)
}

func newServerWithPresence(t *testing.T, snapshot SnapshotFunc, presence Presence) (*Hub, *jwt.Service, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log, _ := test.NewNullLogger()
	hub := NewHub(log)
	jwtService := jwt.New("ws-secret", time.Hour)

	r := gin.New()
	handler := NewHandler(hub, jwtService, snapshot, nil)
	if presence != nil {
		handler.WithPresence(presence)
	}
	r.GET("/ws", handler.Serve)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return hub, jwtService, srv
}

func dial(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev map[string]any
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestServe_SnapshotThenPush(t *testing.T) {
	hub, jwtService, srv := newServer(t, func(_ context.Context, userID int64) (any, error) {
		return map[string]int64{"user_id": userID}, nil
	})
	token, err := jwtService.GenerateToken(7, "client")
	require.NoError(t, err)

	conn := dial(t, srv, token)

	first := readEvent(t, conn)
	assert.Equal(t, EventUnread, first["type"])
	assert.Equal(t, float64(7), first["payload"].(map[string]any)["user_id"])

	assert.Eventually(t, func() bool { return hub.Online(7) }, time.Second, 10*time.Millisecond)
	assert.True(t, hub.SendToUser(7, Event{Type: EventUnread, Payload: map[string]int{"received_unseen": 3}}))
	pushed := readEvent(t, conn)
	assert.Equal(t, float64(3), pushed["payload"].(map[string]any)["received_unseen"])

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	assert.Equal(t, EventPong, readEvent(t, conn)["type"])
}

func TestServe_RejectsMissingToken(t *testing.T) {
	_, _, srv := newServer(t, nil)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 401, resp.StatusCode)
}

func TestSendToUser_Offline(t *testing.T) {
	hub := NewHub(logrus.New())
	assert.False(t, hub.SendToUser(1, Event{Type: EventUnread}))
	assert.False(t, hub.Online(1))
}

type presenceLog struct {
	mu      sync.Mutex
	watched map[int64]int
}

func (p *presenceLog) Watch(_ context.Context, userID int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.watched[userID]++
	return nil
}

func (p *presenceLog) Unwatch(userID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.watched[userID]--
}

func (p *presenceLog) count(userID int64) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.watched[userID]
}

func TestServe_WatchesWhileConnected(t *testing.T) {
	presence := &presenceLog{watched: map[int64]int{}}
	_, jwtService, srv := newServerWithPresence(t, nil, presence)
	token, err := jwtService.GenerateToken(9, "client")
	require.NoError(t, err)

	conn := dial(t, srv, token)
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	assert.Equal(t, EventPong, readEvent(t, conn)["type"])
	assert.Equal(t, 1, presence.count(9))

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return presence.count(9) == 0 }, 2*time.Second, 10*time.Millisecond)
}
