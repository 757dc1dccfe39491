// Package runtime wires roommgr's lifecycle phases to gameloop's
// per-room simulation tasks: it owns the roomCode -> *gameloop.Loop
// mapping that neither package holds by itself (roommgr knows nothing
// about simulation; gameloop knows nothing about other rooms). Grounded
// on the teacher's Hub, which plays the same connective role between its
// room registry and per-room broadcast fan-out.
package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/breakpointhq/breakpoint/internal/game"
	"github.com/breakpointhq/breakpoint/internal/gameloop"
	"github.com/breakpointhq/breakpoint/internal/logging"
	"github.com/breakpointhq/breakpoint/internal/metrics"
	"github.com/breakpointhq/breakpoint/internal/room"
	"github.com/breakpointhq/breakpoint/internal/roommgr"
	"github.com/breakpointhq/breakpoint/internal/tracing"
	"github.com/breakpointhq/breakpoint/internal/wire"
	"github.com/breakpointhq/breakpoint/pkg/breakpointgame"
)

// Coordinator starts a gameloop.Loop every time a room leaves its Starting
// holding window, routes PlayerInput frames from wsconn to the right
// Loop, and cleans up once the loop's goroutine returns (game over or a
// forced end).
type Coordinator struct {
	rooms *roommgr.Manager
	games *game.Registry

	mu     sync.Mutex
	loops  map[string]*gameloop.Loop
	states map[string]latestState
}

type latestState struct {
	tick  uint64
	bytes []byte
}

// New constructs a Coordinator. Call Wire once at startup to register it
// as the room manager's game-start hook.
func New(rooms *roommgr.Manager, games *game.Registry) *Coordinator {
	return &Coordinator{
		rooms:  rooms,
		games:  games,
		loops:  make(map[string]*gameloop.Loop),
		states: make(map[string]latestState),
	}
}

// Wire registers the coordinator as rooms' game-start hook. Must be
// called once, before any room can reach InGame.
func (c *Coordinator) Wire() {
	c.rooms.SetGameStartHook(c.onGameStart)
}

func (c *Coordinator) onGameStart(r *room.Room) {
	ctx, span := tracing.StartRoomSpan(context.Background(), "room.game_start", r.Code, r.Config.GameID)
	defer span.End()

	g, err := c.games.New(r.Config.GameID)
	if err != nil {
		logging.Error(ctx, "runtime: unknown game, aborting start", zap.String("room_code", r.Code), zap.Error(err))
		return
	}

	members := r.Members()
	players := make([]breakpointgame.Player, 0, len(members))
	for _, m := range members {
		if m.IsSpectator {
			continue
		}
		players = append(players, breakpointgame.Player{
			ID:   breakpointgame.PlayerID(m.ID),
			Name: m.Name,
			Color: breakpointgame.Color{R: m.Color[0], G: m.Color[1], B: m.Color[2]},
		})
	}

	if err := g.Init(players, r.Config.SettingsBlob); err != nil {
		logging.Error(ctx, "runtime: game init failed", zap.String("room_code", r.Code), zap.Error(err))
		return
	}

	bcast := &roomBroadcaster{code: r.Code, rooms: c.rooms, coord: c}
	roundDur := time.Duration(r.Config.RoundDurationSecs) * time.Second
	loop := gameloop.New(r.Code, r.Config.GameID, g, bcast, roundDur, r.Config.RoundCount)

	c.mu.Lock()
	c.loops[r.Code] = loop
	c.mu.Unlock()

	infos := make([]wire.PlayerInfo, 0, len(players))
	for _, p := range players {
		infos = append(infos, wire.PlayerInfo{
			PlayerID: uint32(p.ID),
			Name:     p.Name,
			Color:    wire.RGB{p.Color.R, p.Color.G, p.Color.B},
			IsHost:   room.PlayerID(p.ID) == r.Host,
		})
	}
	frame, err := wire.Encode(wire.TagGameStart, wire.GameStart{
		GameName: r.Config.GameID,
		Players:  infos,
		HostID:   uint32(r.Host),
	})
	if err == nil {
		c.rooms.Broadcast(r.Code, frame)
	}

	go func() {
		defer c.removeLoop(r.Code)
		defer func() {
			if rec := recover(); rec != nil {
				logging.Error(ctx, "runtime: recovered panic in game-loop task",
					zap.String("room_code", r.Code), zap.Any("panic", rec), zap.Stack("stack"))
				metrics.GameLoopPanics.WithLabelValues(r.Config.GameID).Inc()
				c.endRoomOnPanic(r.Code, r.Config.GameID, rec)
			}
		}()
		loop.Run(ctx)
	}()
}

// endRoomOnPanic drives a panicking room to Closing and tells every
// member why (§7: a panic in one room's game loop must not affect any
// other room, and members must be told the game ended).
func (c *Coordinator) endRoomOnPanic(code, gameID string, rec any) {
	_, span := tracing.StartRoomSpan(context.Background(), "room.internal_error", code, gameID)
	span.RecordError(fmt.Errorf("game loop panic: %v", rec))
	defer span.End()

	if r, ok := c.rooms.GetRoom(code); ok {
		if err := r.Transition(room.TriggerInternalError, false); err != nil {
			logging.Warn(context.Background(), "runtime: could not transition panicking room to Closing",
				zap.String("room_code", code), zap.Error(err))
		}
	}
	frame, err := wire.Encode(wire.TagGameEnd, wire.GameEnd{Reason: "internal_error"})
	if err != nil {
		return
	}
	c.rooms.Broadcast(code, frame)
}

func (c *Coordinator) removeLoop(code string) {
	c.mu.Lock()
	delete(c.loops, code)
	delete(c.states, code)
	c.mu.Unlock()
}

// setLatestState records the most recently broadcast GameState for a
// room, so a reconnecting session can be replayed the current state
// without waiting for the next tick (§4.F reconnect replay).
func (c *Coordinator) setLatestState(code string, tick uint64, bytes []byte) {
	c.mu.Lock()
	c.states[code] = latestState{tick: tick, bytes: bytes}
	c.mu.Unlock()
}

// LatestState implements wsconn.InputRouter: it returns the last
// GameState broadcast for a room, if any game loop has run there yet.
func (c *Coordinator) LatestState(roomCode string) (stateBytes []byte, tick uint64, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, found := c.states[roomCode]
	if !found {
		return nil, 0, false
	}
	return st.bytes, st.tick, true
}

func (c *Coordinator) loopFor(code string) (*gameloop.Loop, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.loops[code]
	return l, ok
}

// RouteInput implements wsconn.InputRouter.
func (c *Coordinator) RouteInput(roomCode string, playerID room.PlayerID, tick uint64, bytes []byte) bool {
	l, ok := c.loopFor(roomCode)
	if !ok {
		return false
	}
	return l.SubmitInput(gameloop.Input{PlayerID: breakpointgame.PlayerID(playerID), Bytes: bytes})
}

