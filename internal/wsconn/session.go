package wsconn

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/breakpointhq/breakpoint/internal/event"
	"github.com/breakpointhq/breakpoint/internal/logging"
	"github.com/breakpointhq/breakpoint/internal/metrics"
	"github.com/breakpointhq/breakpoint/internal/ratelimit"
	"github.com/breakpointhq/breakpoint/internal/room"
	"github.com/breakpointhq/breakpoint/internal/roommgr"
	"github.com/breakpointhq/breakpoint/internal/wire"
)

// conn is the subset of *websocket.Conn a Session needs; grounded on the
// teacher's wsConnection interface so tests can substitute a fake.
type conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
	SetWriteDeadline(t time.Time) error
}

// InputRouter forwards a decoded PlayerInput to whatever is currently
// simulating the room (a gameloop.Loop, via a coordinator that owns the
// roomCode -> Loop mapping). wsconn has no direct dependency on gameloop
// so it can be unit-tested without a running simulation.
type InputRouter interface {
	RouteInput(roomCode string, playerID room.PlayerID, tick uint64, bytes []byte) bool

	// LatestState returns the most recently broadcast GameState for a
	// room, used to replay reconnecting sessions (§4.F).
	LatestState(roomCode string) (stateBytes []byte, tick uint64, ok bool)
}

const (
	outboundBufferSize = 64
	ackBufferSize      = 8
	writeWait          = 10 * time.Second
	slowReaderTimeout  = 5 * time.Second
	watchdogInterval   = 500 * time.Millisecond
)

// Session is one client's WebSocket connection (§4.F). Run drives the
// caller's readPump (blocking on conn.ReadMessage) and spawns a writePump
// and a slow-reader watchdog; room broadcasts reach it through Send from
// other goroutines. All shared state is behind mu.
type Session struct {
	conn    conn
	mgr     *roommgr.Manager
	events  *event.Store
	limiter *ratelimit.RateLimiter
	router  InputRouter

	remoteIP string

	mu       sync.Mutex
	state    State
	roomCode string
	playerID room.PlayerID

	ack   chan []byte // blocking sends: JoinRoomResponse, RateLimited
	broadcast chan []byte // try-send only: GameState, PlayerList, alert frames

	dropSince  time.Time
	closeOnce  sync.Once
	closed     bool
}

// New constructs a Session. Callers must have already called
// limiter.AcquireIPSlot(remoteIP) and must call Close on return from Run
// to guarantee ReleaseIPSlot happens synchronously (§4.F).
func New(c conn, mgr *roommgr.Manager, events *event.Store, limiter *ratelimit.RateLimiter, router InputRouter, remoteIP string) *Session {
	return &Session{
		conn:     c,
		mgr:      mgr,
		events:   events,
		limiter:  limiter,
		router:   router,
		remoteIP: remoteIP,
		state:    StateHandshaking,
		ack:      make(chan []byte, ackBufferSize),
		broadcast: make(chan []byte, outboundBufferSize),
	}
}

func (s *Session) currentState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Run drives the session until the connection closes or ctx is done. It
// blocks; callers run it in its own goroutine per connection.
func (s *Session) Run(ctx context.Context) {
	metrics.ActiveSessions.Inc()
	defer metrics.ActiveSessions.Dec()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go s.writePump()
	go s.watchdog(ctx)

	s.readPump(ctx)
	s.Close()
}

// readPump implements the Handshaking -> Joined -> (Spectating|Playing)
// state machine's read side (§4.F), grounded on the teacher's readPump
// loop shape (read, decode, dispatch) adapted to the Breakpoint codec and
// first-message rule.
func (s *Session) readPump(ctx context.Context) {
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.BinaryMessage {
			continue
		}

		if s.currentState() == StateHandshaking {
			if !s.handleHandshake(ctx, data) {
				return
			}
			continue
		}

		tag, body, err := wire.Decode(data)
		if err != nil {
			logging.Warn(ctx, "ws session: decode failed", zap.Error(err), zap.Int("size", len(data)))
			continue
		}
		s.dispatch(ctx, tag, body)
	}
}

func (s *Session) handleHandshake(ctx context.Context, frame []byte) (ok bool) {
	var join wire.JoinRoom
	if err := wire.DecodeFrame(frame, wire.TagJoinRoom, &join); err != nil {
		var observedTag byte
		if len(frame) > 0 {
			observedTag = frame[0]
		}
		logging.Warn(ctx, "ws session: first frame must be JoinRoom",
			zap.Uint8("tag", observedTag), zap.Int("size", len(frame)), zap.Error(err))
		s.closeWithCode(CloseFirstFrameRequired, "first frame must be JoinRoom")
		return false
	}

	r, player, reconnected, err := s.mgr.JoinRoom(join.RoomCode, join.PlayerName, room.RGB(join.Color), join.SessionToken, s.remoteIP)
	if err != nil {
		resp, _ := wire.Encode(wire.TagJoinRoomResponse, wire.JoinRoomResponse{Error: err.Error()})
		s.sendAck(resp)
		s.closeWithCode(CloseRoomClosed, err.Error())
		return false
	}

	s.mu.Lock()
	s.roomCode = r.Code
	s.playerID = player.ID
	if player.IsSpectator {
		s.state = StateSpectating
	} else {
		s.state = StatePlaying
	}
	s.mu.Unlock()

	s.mgr.RegisterSink(r.Code, player.ID, s)

	resp, _ := wire.Encode(wire.TagJoinRoomResponse, wire.JoinRoomResponse{
		Success:      true,
		PlayerID:     uint32(player.ID),
		RoomCode:     r.Code,
		RoomState:    configToWire(r.Config),
		SessionToken: player.SessionToken,
	})
	s.sendAck(resp)

	if reconnected {
		s.replayReconnectState(r)
	}

	s.broadcastPlayerList(r)
	return true
}

// replayReconnectState sends a reconnecting session the current
// RoomConfig and, if the room is mid-game, the latest GameState, so it
// does not have to wait for the next tick to resynchronize (§4.F).
func (s *Session) replayReconnectState(r *room.Room) {
	cfgFrame, err := wire.Encode(wire.TagRoomConfig, wire.RoomConfig{Config: configToWire(r.Config)})
	if err == nil {
		s.sendAck(cfgFrame)
	}

	if s.router == nil || r.CurrentPhase() != room.PhaseInGame {
		return
	}
	stateBytes, tick, ok := s.router.LatestState(r.Code)
	if !ok {
		return
	}
	stateFrame, err := wire.Encode(wire.TagGameState, wire.GameState{Tick: tick, StateBytes: stateBytes})
	if err != nil {
		return
	}
	s.sendAck(stateFrame)
}

func (s *Session) dispatch(ctx context.Context, tag wire.Tag, body []byte) {
	switch tag {
	case wire.TagPlayerInput:
		s.handlePlayerInput(ctx, body)
	case wire.TagLeaveRoom:
		s.handleLeaveRoom()
	case wire.TagClaimAlert:
		s.handleClaimAlert(body)
	case wire.TagChatMessage:
		s.relayVerbatim(wire.TagChatMessage, body)
	default:
		logging.Warn(ctx, "ws session: unexpected frame in session state", zap.String("tag", tag.String()), zap.String("state", s.currentState().String()))
	}
}

func (s *Session) handlePlayerInput(ctx context.Context, body []byte) {
	var in wire.PlayerInput
	if err := wire.DecodeInto(wire.TagPlayerInput, body, &in); err != nil {
		return
	}

	sessionKey := fmt.Sprintf("%s:%d", s.roomCode, s.playerID)
	if !s.limiter.AllowInput(ctx, sessionKey) {
		resp, _ := wire.Encode(wire.TagRateLimited, wire.RateLimited{RetryAfterMillis: 1000})
		s.sendAck(resp)
		return
	}

	if s.router != nil {
		s.router.RouteInput(s.roomCode, s.playerID, in.Tick, in.InputBytes)
	}
}

func (s *Session) handleLeaveRoom() {
	s.mu.Lock()
	code, id := s.roomCode, s.playerID
	s.state = StateClosing
	s.mu.Unlock()

	if code != "" {
		_ = s.mgr.LeaveRoom(code, id)
		s.mgr.UnregisterSink(code, id)
	}
}

func (s *Session) handleClaimAlert(body []byte) {
	var claim wire.ClaimAlert
	if err := wire.DecodeInto(wire.TagClaimAlert, body, &claim); err != nil {
		return
	}
	actor := fmt.Sprintf("%s:%d", s.roomCode, s.playerID)
	s.events.Claim(claim.EventID, actor, time.Now())
}

func (s *Session) relayVerbatim(tag wire.Tag, body []byte) {
	frame := append([]byte{byte(tag)}, body...)
	if s.roomCode != "" {
		s.mgr.Broadcast(s.roomCode, frame)
	}
}

func (s *Session) broadcastPlayerList(r *room.Room) {
	members := r.Members()
	infos := make([]wire.PlayerInfo, 0, len(members))
	for _, m := range members {
		infos = append(infos, wire.PlayerInfo{
			PlayerID:    uint32(m.ID),
			Name:        m.Name,
			Color:       wire.RGB(m.Color),
			IsHost:      m.IsHost,
			IsSpectator: m.IsSpectator,
		})
	}
	frame, err := wire.Encode(wire.TagPlayerList, wire.PlayerList{Players: infos, HostID: uint32(r.Host)})
	if err != nil {
		return
	}
	s.mgr.Broadcast(r.Code, frame)
}

func configToWire(cfg room.Config) wire.RoomConfigPayload {
	return wire.RoomConfigPayload{
		RoundCount:        cfg.RoundCount,
		RoundDurationSecs: cfg.RoundDurationSecs,
		MaxPlayers:        cfg.MaxPlayers,
		SettingsBlob:      cfg.SettingsBlob,
	}
}

// Send implements roommgr.SessionSink: a non-blocking, try-send delivery
// used for room broadcasts (game state, player list, alerts). A failed
// send starts (or extends) the slow-reader clock (§4.F).
func (s *Session) Send(frame []byte) bool {
	select {
	case s.broadcast <- frame:
		s.mu.Lock()
		s.dropSince = time.Time{}
		s.mu.Unlock()
		return true
	default:
		s.mu.Lock()
		if s.dropSince.IsZero() {
			s.dropSince = time.Now()
		}
		s.mu.Unlock()
		return false
	}
}

// sendAck is a blocking unicast send for responses directly caused by this
// session's own input (JoinRoomResponse, RateLimited); backpressure here
// propagates to the session's own read loop, which is the desired behavior
// per §4.F ("input-driven acks use blocking send").
func (s *Session) sendAck(frame []byte) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	select {
	case s.ack <- frame:
	case <-time.After(writeWait):
	}
}

func (s *Session) writePump() {
	for {
		select {
		case msg, ok := <-s.ack:
			if !ok {
				return
			}
			if !s.write(msg) {
				return
			}
		case msg, ok := <-s.broadcast:
			if !ok {
				return
			}
			if !s.write(msg) {
				return
			}
		}
	}
}

func (s *Session) write(msg []byte) bool {
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
		return false
	}
	return true
}

// watchdog closes the session if it has been unable to deliver a
// try-send broadcast for longer than slowReaderTimeout (§4.F).
func (s *Session) watchdog(ctx context.Context) {
	ticker := time.NewTicker(watchdogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			since := s.dropSince
			s.mu.Unlock()
			if !since.IsZero() && time.Since(since) > slowReaderTimeout {
				s.closeWithCode(CloseSlowReader, "slow reader")
				return
			}
		}
	}
}

func (s *Session) closeWithCode(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	s.Close()
}

// Close releases the session's resources exactly once: the IP connection
// slot is released synchronously, never deferred to a scheduler (§4.F).
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.state = StateClosing
		code, id := s.roomCode, s.playerID
		s.mu.Unlock()

		close(s.ack)
		close(s.broadcast)
		_ = s.conn.Close()
		s.limiter.ReleaseIPSlot(s.remoteIP)

		if code != "" {
			s.mgr.UnregisterSink(code, id)
			_ = s.mgr.LeaveRoom(code, id)
		}
	})
}
