// Package relay implements the compatibility relay surface (§4.J): a
// process that routes frames by room code without owning any game state.
// It peeks only byte 0 of each frame to tell a room-control frame (join /
// leave) from an opaque forward-as-is frame. The one payload it decodes is
// JoinRoom's, to read the room code; forwarded frames are never
// deserialized. Grounded on the teacher's Hub registry (map + mutex
// of rooms, per-room client set) generalized from a conferencing room's
// peer list to Breakpoint's room-code routing.
package relay

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/breakpointhq/breakpoint/internal/logging"
	"github.com/breakpointhq/breakpoint/internal/metrics"
	"github.com/breakpointhq/breakpoint/internal/wire"
)

var (
	ErrRoomFull      = errors.New("relay: room at capacity")
	ErrRoomNotFound  = errors.New("relay: room not found")
	ErrClientExists  = errors.New("relay: client id already connected")
)

// controlTags are the only byte-0 values the relay itself acts on; every
// other tag is forwarded verbatim to the rest of the room.
var controlTags = map[wire.Tag]bool{
	wire.TagJoinRoom:  true,
	wire.TagLeaveRoom: true,
}

// DefaultMaxClientsPerRoom mirrors room.MaxMaxPlayers plus headroom for
// spectators, since the relay has no concept of player-vs-spectator.
const DefaultMaxClientsPerRoom = 64

// Sink is a connected client's outbound queue, implemented by the relay's
// WS transport (mirrors roommgr.SessionSink but lives in its own package
// since a relay-mode deployment never links roommgr).
type Sink interface {
	Send(frame []byte) (sent bool)
}

// ClientID identifies one connected relay client within a room; callers
// supply it (e.g. derived from the WS connection or an upstream session
// token) since the relay assigns no player identity of its own.
type ClientID string

type room struct {
	code string

	mu      sync.Mutex
	clients map[ClientID]Sink
	drops   map[ClientID]int
	maxSize int
}

// Manager is the process-wide relay room registry. Unlike roommgr.Manager,
// it carries no game, phase, or membership semantics: rooms exist purely
// as routing scopes and disappear the instant they're empty.
type Manager struct {
	mu    sync.Mutex
	rooms map[string]*room
}

// New constructs an empty relay Manager.
func New() *Manager {
	return &Manager{rooms: make(map[string]*room)}
}

// Join registers client in the room named by code, creating the room if
// necessary. Returns ErrRoomFull if the room is already at
// DefaultMaxClientsPerRoom, ErrClientExists if the ID is already present.
func (m *Manager) Join(code string, id ClientID, sink Sink) error {
	r := m.getOrCreateRoom(code)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.clients[id]; exists {
		return ErrClientExists
	}
	if len(r.clients) >= r.maxSize {
		return ErrRoomFull
	}
	r.clients[id] = sink
	r.drops[id] = 0
	metrics.ActiveRooms.Set(float64(m.roomCountLocked()))
	return nil
}

func (m *Manager) getOrCreateRoom(code string) *room {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[code]
	if !ok {
		r = &room{
			code:    code,
			clients: make(map[ClientID]Sink),
			drops:   make(map[ClientID]int),
			maxSize: DefaultMaxClientsPerRoom,
		}
		m.rooms[code] = r
	}
	return r
}

func (m *Manager) roomCountLocked() int {
	return len(m.rooms)
}

// Leave removes client from the room, and removes the room itself once it
// has no clients left (§4.J "automatic room cleanup when the room becomes
// empty").
func (m *Manager) Leave(code string, id ClientID) {
	m.mu.Lock()
	r, ok := m.rooms[code]
	if !ok {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	r.mu.Lock()
	delete(r.clients, id)
	delete(r.drops, id)
	empty := len(r.clients) == 0
	r.mu.Unlock()

	if empty {
		m.mu.Lock()
		if cur, ok := m.rooms[code]; ok && cur == r {
			delete(m.rooms, code)
		}
		m.mu.Unlock()
	}
}

// Route peeks byte 0 of frame. Control frames (JoinRoom/LeaveRoom) are
// reported back to the caller via isControl=true for local handling
// (updating the relay's own roster); anything else is forwarded verbatim
// to every other client in the room with try-send, counting drops
// per-client (§4.J).
func (m *Manager) Route(ctx context.Context, code string, from ClientID, frame []byte) (isControl bool) {
	if len(frame) == 0 {
		return false
	}
	tag := wire.Tag(frame[0])
	if controlTags[tag] {
		return true
	}

	m.mu.Lock()
	r, ok := m.rooms[code]
	m.mu.Unlock()
	if !ok {
		return false
	}

	r.mu.Lock()
	targets := make(map[ClientID]Sink, len(r.clients))
	for id, s := range r.clients {
		if id == from {
			continue
		}
		targets[id] = s
	}
	r.mu.Unlock()

	for id, s := range targets {
		if !s.Send(frame) {
			r.mu.Lock()
			r.drops[id]++
			n := r.drops[id]
			r.mu.Unlock()
			logging.Warn(ctx, "relay: dropped frame for client", zap.String("room", code), zap.String("client", string(id)), zap.Int("drops", n))
		}
	}
	return false
}

// DropCount reports how many forwarded frames a client has missed, for
// diagnostics and slow-reader policy decisions made by the transport layer.
func (m *Manager) DropCount(code string, id ClientID) int {
	m.mu.Lock()
	r, ok := m.rooms[code]
	m.mu.Unlock()
	if !ok {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.drops[id]
}

// RoomCount reports the number of active relay rooms, for the status
// endpoint when deployed in relay mode.
func (m *Manager) RoomCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rooms)
}

// ClientCount reports the number of clients currently in code, 0 if the
// room does not exist.
func (m *Manager) ClientCount(code string) int {
	m.mu.Lock()
	r, ok := m.rooms[code]
	m.mu.Unlock()
	if !ok {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}
