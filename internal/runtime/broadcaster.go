package runtime

import (
	"github.com/breakpointhq/breakpoint/internal/room"
	"github.com/breakpointhq/breakpoint/internal/roommgr"
	"github.com/breakpointhq/breakpoint/internal/wire"
	"github.com/breakpointhq/breakpoint/pkg/breakpointgame"
)

// roomBroadcaster implements gameloop.Broadcaster for one room, translating
// the game loop's domain-level calls into encoded wire frames delivered
// through roommgr.Manager's try-send fan-out.
type roomBroadcaster struct {
	code  string
	rooms *roommgr.Manager
	coord *Coordinator
}

func (b *roomBroadcaster) BroadcastGameState(tick uint64, stateBytes []byte) {
	b.coord.setLatestState(b.code, tick, stateBytes)
	frame, err := wire.Encode(wire.TagGameState, wire.GameState{Tick: tick, StateBytes: stateBytes})
	if err != nil {
		return
	}
	b.rooms.Broadcast(b.code, frame)
}

func (b *roomBroadcaster) BroadcastRoundEnd(scores []breakpointgame.RoundResult, nextRoundIndex *uint32) {
	entries := make([]wire.ScoreEntry, 0, len(scores))
	for _, s := range scores {
		entries = append(entries, wire.ScoreEntry{PlayerID: uint32(s.PlayerID), Score: int32(s.Score)})
	}
	frame, err := wire.Encode(wire.TagRoundEnd, wire.RoundEnd{Scores: entries, NextRoundIndex: nextRoundIndex})
	if err != nil {
		return
	}
	b.rooms.Broadcast(b.code, frame)
}

func (b *roomBroadcaster) BroadcastGameEnd(scores []breakpointgame.RoundResult, reason string) {
	entries := make([]wire.ScoreEntry, 0, len(scores))
	for _, s := range scores {
		entries = append(entries, wire.ScoreEntry{PlayerID: uint32(s.PlayerID), Score: int32(s.Score)})
	}
	frame, err := wire.Encode(wire.TagGameEnd, wire.GameEnd{FinalScores: entries, Reason: reason})
	if err != nil {
		return
	}
	b.rooms.Broadcast(b.code, frame)
}

func (b *roomBroadcaster) Transition(trigger room.Trigger, roundsRemaining bool) error {
	r, ok := b.rooms.GetRoom(b.code)
	if !ok {
		return roommgr.ErrRoomNotFound
	}
	return r.Transition(trigger, roundsRemaining)
}

func (b *roomBroadcaster) IsActivePlayer(id breakpointgame.PlayerID) bool {
	r, ok := b.rooms.GetRoom(b.code)
	if !ok {
		return false
	}
	p, ok := r.Get(room.PlayerID(id))
	return ok && !p.IsSpectator
}
