// Package roomapi exposes the room-lifecycle actions the wire protocol
// itself has no frame for: creating a room (spec's create_room operation
// has no JoinRoom-equivalent client frame, since a client cannot join a
// room before one exists) and starting the game (§4.D's host:start
// trigger). §4.A's frame table is frozen to the tags it enumerates, so
// both are a small authenticated REST surface alongside §4.H's ingestion
// API, grounded on the ingest package's gin handler shape (bind
// path/header, map a lifecycle error to a status code, return JSON).
package roomapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/breakpointhq/breakpoint/internal/room"
	"github.com/breakpointhq/breakpoint/internal/roommgr"
)

// Handler serves the room-lifecycle convenience endpoints.
type Handler struct {
	rooms *roommgr.Manager
}

// NewHandler constructs a Handler bound to the process-wide room manager.
func NewHandler(rooms *roommgr.Manager) *Handler {
	return &Handler{rooms: rooms}
}

// RegisterRoutes wires the room-lifecycle endpoints onto group.
func (h *Handler) RegisterRoutes(group *gin.RouterGroup) {
	group.POST("/rooms", h.CreateRoom)
	group.POST("/rooms/:code/start", h.StartGame)
}

type createRoomRequest struct {
	HostName   string `json:"host_name"`
	Color      [3]uint8 `json:"color"`
	GameID     string `json:"game_id"`
	RoundCount int    `json:"round_count"`
	RoundSecs  int    `json:"round_duration_secs"`
	MaxPlayers int    `json:"max_players"`
}

// CreateRoom handles the spec's create_room(host_name, color, config)
// operation: allocates a room code, seats the caller as host, and returns
// the session token the host must present to every other authenticated
// action (including StartGame and the WS JoinRoom frame).
func (h *Handler) CreateRoom(c *gin.Context) {
	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed payload", "field": err.Error()})
		return
	}

	cfg, err := room.NewConfig(req.GameID, req.RoundCount, req.RoundSecs, req.MaxPlayers, nil)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room config"})
		return
	}

	r, host, err := h.rooms.CreateRoom(req.HostName, room.RGB(req.Color), cfg, c.ClientIP())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create room"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"room_code":     r.Code,
		"player_id":     strconv.FormatUint(uint64(host.ID), 10),
		"session_token": host.SessionToken,
	})
}

// StartGame validates that the caller's session token names the room's
// current host, then applies host:start. The holding window and InGame
// transition happen asynchronously inside roommgr.Manager.
func (h *Handler) StartGame(c *gin.Context) {
	code := c.Param("code")
	token := c.GetHeader("X-Session-Token")
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing session token"})
		return
	}

	r, ok := h.rooms.GetRoom(code)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	player, found := r.FindByToken(token)
	if !found {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unrecognized session token"})
		return
	}

	if err := h.rooms.StartGame(code, player.ID); err != nil {
		switch {
		case errors.Is(err, roommgr.ErrNotHost):
			c.JSON(http.StatusForbidden, gin.H{"error": "only the host may start the game"})
		case errors.Is(err, roommgr.ErrRoomNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		case errors.Is(err, room.ErrInvalidPhase):
			c.JSON(http.StatusConflict, gin.H{"error": "room is not in lobby"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not start game"})
		}
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"room_code":        code,
		"player_id":        strconv.FormatUint(uint64(player.ID), 10),
		"starting_in_secs": 3,
	})
}
