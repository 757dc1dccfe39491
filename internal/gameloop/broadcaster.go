package gameloop

import (
	"github.com/breakpointhq/breakpoint/internal/room"
	"github.com/breakpointhq/breakpoint/pkg/breakpointgame"
)

// Broadcaster is the Loop's only way to talk to the outside world. It is
// implemented by the room manager / WS fan-out layer so gameloop itself
// stays free of wire-codec and connection concerns.
type Broadcaster interface {
	// BroadcastGameState sends a GameState frame to every session in the
	// room. Implementations use try-send semantics (§4.E step 4).
	BroadcastGameState(tick uint64, stateBytes []byte)

	// BroadcastRoundEnd sends a RoundEnd frame. nextRoundIndex is nil
	// when the game is over.
	BroadcastRoundEnd(scores []breakpointgame.RoundResult, nextRoundIndex *uint32)

	// BroadcastGameEnd sends a GameEnd frame with final scores. reason is
	// empty for a normal game-over transition.
	BroadcastGameEnd(scores []breakpointgame.RoundResult, reason string)

	// Transition requests a room phase change driven by a game-loop
	// event (round_complete, timer_expired). Implementations forward to
	// room.Room.Transition; an error here means a logic bug, not a
	// client-facing condition, so the Loop logs and continues.
	Transition(trigger room.Trigger, roundsRemaining bool) error

	// IsActivePlayer reports whether id currently occupies an active
	// (non-spectator) seat, used to validate queued inputs (§4.E step 2).
	IsActivePlayer(id breakpointgame.PlayerID) bool
}
