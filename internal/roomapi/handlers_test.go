package roomapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breakpointhq/breakpoint/internal/room"
	"github.com/breakpointhq/breakpoint/internal/roommgr"
)

func newTestRouter(h *Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	group := r.Group("/api/v1")
	h.RegisterRoutes(group)
	return r
}

func newLobbyRoom(t *testing.T) (*roommgr.Manager, *room.Room, *room.Player) {
	t.Helper()
	mgr := roommgr.New(0, 0, 0, 0)
	cfg, err := room.NewConfig("demo", 3, 60, 8, nil)
	require.NoError(t, err)
	r, host, err := mgr.CreateRoom("Alice", room.RGB{100, 150, 200}, cfg, "127.0.0.1")
	require.NoError(t, err)
	return mgr, r, host
}

func TestCreateRoom_ReturnsCodeAndHostToken(t *testing.T) {
	mgr := roommgr.New(0, 0, 0, 0)
	h := NewHandler(mgr)
	router := newTestRouter(h)

	body := `{"host_name":"Alice","color":[10,20,30],"game_id":"demo","round_count":3,"round_duration_secs":60,"max_players":8}`
	req, _ := http.NewRequest("POST", "/api/v1/rooms", strings.NewReader(body))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	require.Equal(t, http.StatusCreated, resp.Code)

	var out map[string]any
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	assert.Equal(t, "1", out["player_id"])
	assert.NotEmpty(t, out["room_code"])
	assert.NotEmpty(t, out["session_token"])

	r, ok := mgr.GetRoom(out["room_code"].(string))
	require.True(t, ok)
	assert.Equal(t, room.PhaseLobby, r.CurrentPhase())
}

func TestCreateRoom_InvalidConfigRejected(t *testing.T) {
	mgr := roommgr.New(0, 0, 0, 0)
	h := NewHandler(mgr)
	router := newTestRouter(h)

	body := `{"host_name":"Alice","game_id":"demo","round_count":99,"round_duration_secs":60,"max_players":8}`
	req, _ := http.NewRequest("POST", "/api/v1/rooms", strings.NewReader(body))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestStartGame_HostSucceeds(t *testing.T) {
	mgr, r, host := newLobbyRoom(t)
	h := NewHandler(mgr)
	router := newTestRouter(h)

	req, _ := http.NewRequest("POST", "/api/v1/rooms/"+r.Code+"/start", nil)
	req.Header.Set("X-Session-Token", host.SessionToken)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusAccepted, resp.Code)
	assert.Equal(t, room.PhaseStarting, r.CurrentPhase())
}

func TestStartGame_NonHostRejected(t *testing.T) {
	mgr, r, _ := newLobbyRoom(t)
	guest, err := r.AddMember("Bob", room.RGB{0, 0, 0}, "127.0.0.2")
	require.NoError(t, err)

	h := NewHandler(mgr)
	router := newTestRouter(h)

	req, _ := http.NewRequest("POST", "/api/v1/rooms/"+r.Code+"/start", nil)
	req.Header.Set("X-Session-Token", guest.SessionToken)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusForbidden, resp.Code)
	assert.Equal(t, room.PhaseLobby, r.CurrentPhase())
}

func TestStartGame_UnknownTokenUnauthorized(t *testing.T) {
	mgr, r, _ := newLobbyRoom(t)
	h := NewHandler(mgr)
	router := newTestRouter(h)

	req, _ := http.NewRequest("POST", "/api/v1/rooms/"+r.Code+"/start", nil)
	req.Header.Set("X-Session-Token", "not-a-real-token")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestStartGame_UnknownRoomNotFound(t *testing.T) {
	mgr := roommgr.New(0, 0, 0, 0)
	h := NewHandler(mgr)
	router := newTestRouter(h)

	req, _ := http.NewRequest("POST", "/api/v1/rooms/ZZZZZZ/start", nil)
	req.Header.Set("X-Session-Token", "whatever")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestStartGame_FiresHookAfterHoldWindow(t *testing.T) {
	mgr, r, host := newLobbyRoom(t)
	fired := make(chan *room.Room, 1)
	mgr.SetGameStartHook(func(r *room.Room) { fired <- r })

	require.NoError(t, mgr.StartGame(r.Code, host.ID))
	assert.Equal(t, room.PhaseStarting, r.CurrentPhase())

	select {
	case got := <-fired:
		assert.Equal(t, r.Code, got.Code)
		assert.Equal(t, room.PhaseInGame, r.CurrentPhase())
	case <-time.After(4 * time.Second):
		t.Fatal("game start hook did not fire within the holding window")
	}
}
