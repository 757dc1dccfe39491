package relay

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/breakpointhq/breakpoint/internal/wire"
)

func newRelayServer(t *testing.T) (*httptest.Server, *Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	mgr := New()
	h := NewHandler(mgr)
	r := gin.New()
	r.GET("/ws", h.ServeWs)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, mgr
}

func dialRelay(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestServeWs_JoinThenForwardReachesOtherClient(t *testing.T) {
	srv, mgr := newRelayServer(t)

	a := dialRelay(t, srv)
	b := dialRelay(t, srv)

	join, err := wire.Encode(wire.TagJoinRoom, wire.JoinRoom{RoomCode: "AB12CD", PlayerName: "a"})
	require.NoError(t, err)
	require.NoError(t, a.WriteMessage(websocket.BinaryMessage, join))

	join2, err := wire.Encode(wire.TagJoinRoom, wire.JoinRoom{RoomCode: "AB12CD", PlayerName: "b"})
	require.NoError(t, err)
	require.NoError(t, b.WriteMessage(websocket.BinaryMessage, join2))

	require.Eventually(t, func() bool {
		return mgr.ClientCount("AB12CD") == 2
	}, time.Second, 10*time.Millisecond)

	opaque, err := wire.Encode(wire.TagChatMessage, wire.ChatMessage{PlayerID: 1, Text: "hi"})
	require.NoError(t, err)
	require.NoError(t, a.WriteMessage(websocket.BinaryMessage, opaque))

	require.NoError(t, b.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, got, err := b.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, opaque, got)
}

func TestServeWs_CloseRemovesClientFromRoom(t *testing.T) {
	srv, mgr := newRelayServer(t)
	a := dialRelay(t, srv)

	join, err := wire.Encode(wire.TagJoinRoom, wire.JoinRoom{RoomCode: "LEAVE1", PlayerName: "a"})
	require.NoError(t, err)
	require.NoError(t, a.WriteMessage(websocket.BinaryMessage, join))

	require.Eventually(t, func() bool {
		return mgr.ClientCount("LEAVE1") == 1
	}, time.Second, 10*time.Millisecond)

	a.Close()

	require.Eventually(t, func() bool {
		return mgr.RoomCount() == 0
	}, time.Second, 10*time.Millisecond)
}
