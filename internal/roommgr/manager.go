// Package roommgr owns the set of active rooms, indexed by RoomCode
// (§4.G), grounded on the teacher's Hub registry pattern (map + mutex,
// grace-period timers for deferred cleanup) generalized from a single
// global room map to Breakpoint's reconnect/host-migration semantics.
package roommgr

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/breakpointhq/breakpoint/internal/logging"
	"github.com/breakpointhq/breakpoint/internal/metrics"
	"github.com/breakpointhq/breakpoint/internal/room"
)

var (
	ErrCodeExhausted = errors.New("roommgr: could not generate a unique room code")
	ErrRoomNotFound   = errors.New("roommgr: room not found")
	ErrNotHost        = errors.New("roommgr: requester is not the room's host")
)

const maxCodeAttempts = 10

// SessionSink is how the manager reaches a connected player's outbound
// queue without depending on the WS transport package (§4.G broadcast).
// Implementations use try-send semantics and report whether the frame was
// accepted.
type SessionSink interface {
	Send(frame []byte) (sent bool)
}

type entry struct {
	room *room.Room

	mu                 sync.Mutex
	sinks              map[room.PlayerID]SessionSink
	disconnectTimers   map[room.PlayerID]*time.Timer
	hostMigrationTimer *time.Timer
	startingTimer      *time.Timer
}

// GameStartHook is invoked once a room leaves its Starting holding window
// and enters InGame, so the caller can spin up the room's simulation
// (§4.D/§4.E). The room manager has no dependency on gameloop or any game
// module; it only knows when the transition happened.
type GameStartHook func(r *room.Room)

const startingHoldWindow = 3 * time.Second

// Manager is the process-wide room registry (§4.G). The registry's write
// lock is acquired only for create/remove; other operations take its read
// lock just long enough to look a room up and then work against the room's
// own internal lock, so sessions in different rooms only share read access.
type Manager struct {
	mu    sync.RWMutex
	rooms map[string]*entry

	idleGrace          time.Duration
	sweepInterval      time.Duration
	reconnectTTL       time.Duration
	hostMigrationGrace time.Duration

	onGameStart GameStartHook
}

// SetGameStartHook registers the callback fired when a room transitions
// Starting -> InGame. Must be called before any room reaches that phase;
// typically wired once at process startup.
func (m *Manager) SetGameStartHook(hook GameStartHook) {
	m.onGameStart = hook
}

// New constructs a Manager. Zero durations fall back to the defaults
// documented in §3/§4.F/§4.G.
func New(idleGrace, sweepInterval, reconnectTTL, hostMigrationGrace time.Duration) *Manager {
	if idleGrace <= 0 {
		idleGrace = 60 * time.Second
	}
	if sweepInterval <= 0 {
		sweepInterval = 10 * time.Second
	}
	if reconnectTTL <= 0 {
		reconnectTTL = 120 * time.Second
	}
	if hostMigrationGrace <= 0 {
		hostMigrationGrace = 30 * time.Second
	}
	return &Manager{
		rooms:              make(map[string]*entry),
		idleGrace:          idleGrace,
		sweepInterval:      sweepInterval,
		reconnectTTL:       reconnectTTL,
		hostMigrationGrace: hostMigrationGrace,
	}
}

func randomCode() (string, error) {
	buf := make([]byte, room.CodeLength)
	alphabetLen := big.NewInt(int64(len(room.CodeAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, alphabetLen)
		if err != nil {
			return "", err
		}
		buf[i] = room.CodeAlphabet[n.Int64()]
	}
	return string(buf), nil
}

// CreateRoom allocates a new room with a unique code, PlayerID=1 as host.
func (m *Manager) CreateRoom(hostName string, color room.RGB, cfg room.Config, hostIP string) (*room.Room, *room.Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := randomCode()
		if err != nil {
			return nil, nil, err
		}
		if _, exists := m.rooms[code]; exists {
			continue
		}
		r, host, err := room.NewRoom(code, cfg, hostName, color, hostIP)
		if err != nil {
			return nil, nil, err
		}
		m.rooms[code] = &entry{
			room:             r,
			sinks:            make(map[room.PlayerID]SessionSink),
			disconnectTimers: make(map[room.PlayerID]*time.Timer),
		}
		metrics.ActiveRooms.Inc()
		metrics.RoomMembers.WithLabelValues(code).Set(1)
		return r, host, nil
	}
	return nil, nil, ErrCodeExhausted
}

// GetRoom looks up a room by code.
func (m *Manager) GetRoom(code string) (*room.Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.rooms[code]
	if !ok {
		return nil, false
	}
	return e.room, true
}

func (m *Manager) getEntry(code string) (*entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.rooms[code]
	return e, ok
}

// JoinRoom joins an existing room: a reconnect token reattaches a
// disconnected member; otherwise the room assigns active/spectator status
// per its own phase (§4.G).
func (m *Manager) JoinRoom(code, name string, color room.RGB, token, ip string) (*room.Room, *room.Player, bool, error) {
	e, ok := m.getEntry(code)
	if !ok {
		return nil, nil, false, ErrRoomNotFound
	}

	if token != "" {
		if p, found := e.room.FindByToken(token); found && !p.Connected() {
			m.cancelPendingTimers(e, p.ID)
			reconnected, err := e.room.Reconnect(p.ID)
			if err != nil {
				return nil, nil, false, err
			}
			return e.room, reconnected, true, nil
		}
	}

	normalized := room.NormalizeName(name)
	if _, found := e.room.FindByNormalizedName(normalized); found {
		return nil, nil, false, room.ErrNameInUse
	}

	p, err := e.room.AddMember(name, color, ip)
	if err != nil {
		return nil, nil, false, err
	}
	metrics.RoomMembers.WithLabelValues(code).Set(float64(len(e.room.Members())))
	return e.room, p, false, nil
}

// LeaveRoom marks a player disconnected, preserving their seat for the
// reconnect TTL, and schedules host migration if the leaver was host and
// the room is mid-game (§4.G).
func (m *Manager) LeaveRoom(code string, playerID room.PlayerID) error {
	e, ok := m.getEntry(code)
	if !ok {
		return ErrRoomNotFound
	}
	p, ok := e.room.Get(playerID)
	if !ok {
		return room.ErrPlayerNotFound
	}

	e.room.MarkDisconnected(playerID)
	m.scheduleDisconnectRemoval(code, e, playerID)

	if p.IsHost {
		phase := e.room.CurrentPhase()
		if phase == room.PhaseInGame || phase == room.PhaseBetweenRounds {
			m.scheduleHostMigration(e, playerID)
		}
	}
	return nil
}

// StartGame applies the host:start trigger (§4.D), moving the room from
// Lobby to its Starting holding window. Only the current host may start
// the game; requesterID is the caller's PlayerID as established by
// JoinRoom. After startingHoldWindow elapses, the room automatically
// applies the "ready" trigger into InGame and fires the registered
// GameStartHook, handing control of the room's simulation to the caller.
func (m *Manager) StartGame(code string, requesterID room.PlayerID) error {
	e, ok := m.getEntry(code)
	if !ok {
		return ErrRoomNotFound
	}
	if e.room.Host != requesterID {
		return ErrNotHost
	}
	if err := e.room.Transition(room.TriggerHostStart, false); err != nil {
		return err
	}

	e.mu.Lock()
	if e.startingTimer != nil {
		e.startingTimer.Stop()
	}
	e.startingTimer = time.AfterFunc(startingHoldWindow, func() {
		e.mu.Lock()
		e.startingTimer = nil
		e.mu.Unlock()
		if err := e.room.Transition(room.TriggerReady, false); err != nil {
			logging.Warn(context.Background(), "roommgr: starting->ingame transition rejected",
				zap.String("room_code", code), zap.Error(err))
			return
		}
		if m.onGameStart != nil {
			m.onGameStart(e.room)
		}
	})
	e.mu.Unlock()
	return nil
}

func (m *Manager) cancelPendingTimers(e *entry, playerID room.PlayerID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.disconnectTimers[playerID]; ok {
		t.Stop()
		delete(e.disconnectTimers, playerID)
	}
	if e.hostMigrationTimer != nil {
		e.hostMigrationTimer.Stop()
		e.hostMigrationTimer = nil
	}
}

func (m *Manager) scheduleDisconnectRemoval(code string, e *entry, playerID room.PlayerID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.disconnectTimers[playerID]; ok {
		t.Stop()
	}
	e.disconnectTimers[playerID] = time.AfterFunc(m.reconnectTTL, func() {
		e.mu.Lock()
		delete(e.disconnectTimers, playerID)
		e.mu.Unlock()

		if cur, ok := e.room.Get(playerID); ok && !cur.Connected() {
			if _, err := e.room.RemoveMember(playerID); err != nil {
				logging.Warn(context.Background(), "roommgr: reconnect TTL removal failed",
					zap.String("room_code", code), zap.Error(err))
			}
			metrics.RoomMembers.WithLabelValues(code).Set(float64(len(e.room.Members())))
		}
	})
}

func (m *Manager) scheduleHostMigration(e *entry, playerID room.PlayerID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.hostMigrationTimer != nil {
		e.hostMigrationTimer.Stop()
	}
	e.hostMigrationTimer = time.AfterFunc(m.hostMigrationGrace, func() {
		e.mu.Lock()
		e.hostMigrationTimer = nil
		e.mu.Unlock()

		cur, ok := e.room.Get(playerID)
		if !ok || cur.Connected() {
			return
		}
		if _, migrated := e.room.MigrateHost(); !migrated {
			_ = e.room.Transition(room.TriggerHostPermanentLeave, false)
		}
	})
}

// RegisterSink attaches a session's outbound sender so Broadcast can reach
// it. Called by the WS transport layer when a session joins.
func (m *Manager) RegisterSink(code string, playerID room.PlayerID, sink SessionSink) {
	e, ok := m.getEntry(code)
	if !ok {
		return
	}
	e.mu.Lock()
	e.sinks[playerID] = sink
	e.mu.Unlock()
}

// UnregisterSink detaches a session's sender, e.g. on disconnect.
func (m *Manager) UnregisterSink(code string, playerID room.PlayerID) {
	e, ok := m.getEntry(code)
	if !ok {
		return
	}
	e.mu.Lock()
	delete(e.sinks, playerID)
	e.mu.Unlock()
}

// Broadcast delivers frame to every registered sink in the room with
// try-send semantics, counting drops toward slow-reader policy (§4.G).
func (m *Manager) Broadcast(code string, frame []byte) (delivered, dropped int) {
	e, ok := m.getEntry(code)
	if !ok {
		return 0, 0
	}
	e.mu.Lock()
	sinks := make([]SessionSink, 0, len(e.sinks))
	for _, s := range e.sinks {
		sinks = append(sinks, s)
	}
	e.mu.Unlock()

	for _, s := range sinks {
		if s.Send(frame) {
			delivered++
		} else {
			dropped++
		}
	}
	return delivered, dropped
}

// BroadcastAll delivers frame to every connected session across every
// room, used by the alert fan-out task (§4.I) which has no single room to
// target. Delivery is best-effort per session, same as Broadcast.
func (m *Manager) BroadcastAll(frame []byte) (delivered, dropped int) {
	m.mu.RLock()
	entries := make([]*entry, 0, len(m.rooms))
	for _, e := range m.rooms {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	for _, e := range entries {
		e.mu.Lock()
		sinks := make([]SessionSink, 0, len(e.sinks))
		for _, s := range e.sinks {
			sinks = append(sinks, s)
		}
		e.mu.Unlock()

		for _, s := range sinks {
			if s.Send(frame) {
				delivered++
			} else {
				dropped++
			}
		}
	}
	return delivered, dropped
}

// RunIdleSweep blocks, sweeping idle rooms to Closing and then removing
// them on the following pass, every sweepInterval, until ctx is done
// (§4.G idle_sweep).
func (m *Manager) RunIdleSweep(ctx context.Context) {
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.sweepOnce(now)
		}
	}
}

func (m *Manager) sweepOnce(now time.Time) {
	m.mu.RLock()
	codes := make([]string, 0, len(m.rooms))
	entries := make([]*entry, 0, len(m.rooms))
	for code, e := range m.rooms {
		codes = append(codes, code)
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	for i, e := range entries {
		code := codes[i]
		if e.room.CurrentPhase() == room.PhaseClosing {
			m.removeRoom(code)
			continue
		}
		if e.room.HumanCount() == 0 && e.room.IdleFor(now) > m.idleGrace {
			_ = e.room.Transition(room.TriggerIdleGraceExpired, false)
		}
	}
}

func (m *Manager) removeRoom(code string) {
	m.mu.Lock()
	delete(m.rooms, code)
	m.mu.Unlock()
	metrics.ActiveRooms.Dec()
	metrics.RoomMembers.DeleteLabelValues(code)
	logging.Info(context.Background(), "room closed", zap.String("room_code", code))
}

// RoomCount reports the number of currently tracked rooms (for /api/v1/status).
func (m *Manager) RoomCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}
