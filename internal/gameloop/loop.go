// Package gameloop implements the fixed-rate per-room simulation
// scheduler (§4.E): one cooperative single-threaded task per room in
// InGame or BetweenRounds, many rooms running concurrently on the Go
// runtime's own work-stealing scheduler.
package gameloop

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/breakpointhq/breakpoint/internal/logging"
	"github.com/breakpointhq/breakpoint/internal/metrics"
	"github.com/breakpointhq/breakpoint/internal/room"
	"github.com/breakpointhq/breakpoint/pkg/breakpointgame"
)

const (
	defaultInputBuffer   = 256
	defaultCommandBuffer = 32
)

// Loop drives one room's game module at its declared tick rate. Loop is
// not safe for concurrent use; exactly one goroutine calls Run.
type Loop struct {
	roomCode    string
	gameName    string
	game        breakpointgame.Game
	broadcaster Broadcaster

	tickRate      int
	roundDuration time.Duration
	totalRounds   int

	inputs   chan Input
	commands chan Command

	currentRound int
	paused       bool
	tick         uint64
	roundDeadline time.Time
}

// New constructs a Loop for a room whose game has already been Init'd by
// the caller (the room manager, on GameStart).
func New(roomCode, gameName string, game breakpointgame.Game, broadcaster Broadcaster, roundDuration time.Duration, totalRounds int) *Loop {
	md := game.Metadata()
	return &Loop{
		roomCode:      roomCode,
		gameName:      gameName,
		game:          game,
		broadcaster:   broadcaster,
		tickRate:      md.TickRateHzOrDefault(),
		roundDuration: roundDuration,
		totalRounds:   totalRounds,
		currentRound:  0,
		inputs:        make(chan Input, defaultInputBuffer),
		commands:      make(chan Command, defaultCommandBuffer),
	}
}

// SubmitInput enqueues a player input for the next tick's drain. Never
// blocks the caller's I/O task; a full queue drops the input (the room's
// WS session layer is expected to size its own per-session rate limit so
// this should not happen in practice).
func (l *Loop) SubmitInput(in Input) bool {
	select {
	case l.inputs <- in:
		return true
	default:
		return false
	}
}

// SubmitCommand enqueues a membership/control command, consumed at the
// top of the next tick (§4.E).
func (l *Loop) SubmitCommand(cmd Command) bool {
	select {
	case l.commands <- cmd:
		return true
	default:
		return false
	}
}

// Run blocks, driving ticks until ctx is canceled or a ForceEnd command is
// processed. Missed ticks coalesce: time.Ticker drops ticks that the
// receiver failed to keep up with rather than queuing a catch-up burst,
// matching the "skip intermediate ticks" requirement.
func (l *Loop) Run(ctx context.Context) {
	dt := time.Second / time.Duration(l.tickRate)
	ticker := time.NewTicker(dt)
	defer ticker.Stop()

	l.roundDeadline = time.Now().Add(l.roundDuration)

	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-l.commands:
			if l.handleCommand(cmd) {
				return
			}
		case now := <-ticker.C:
			if l.paused {
				continue
			}
			if l.runTick(now, dt.Seconds()) {
				return
			}
		}
	}
}

func (l *Loop) handleCommand(cmd Command) (stop bool) {
	switch cmd.Kind {
	case CommandPlayerJoined:
		l.game.PlayerJoined(cmd.Player)
	case CommandPlayerLeft:
		l.game.PlayerLeft(cmd.ID)
	case CommandPause:
		if p, ok := l.game.(breakpointgame.Pausable); ok {
			p.Pause()
		}
		l.paused = true
	case CommandResume:
		if p, ok := l.game.(breakpointgame.Pausable); ok {
			p.Resume()
		}
		l.paused = false
	case CommandForceEnd:
		l.finishGame()
		return true
	}
	return false
}

func (l *Loop) runTick(now time.Time, dtSecs float64) (stop bool) {
	start := time.Now()
	defer func() {
		metrics.GameLoopTickDuration.WithLabelValues(l.gameName).Observe(time.Since(start).Seconds())
	}()

	inputsThisTick := l.drainInputs()

	events := l.game.Update(dtSecs, inputsThisTick)
	l.tick++
	metrics.GameLoopTicks.WithLabelValues(l.gameName).Inc()

	state := l.game.SerializeState()
	l.broadcaster.BroadcastGameState(l.tick, state)

	roundComplete := false
	for _, ev := range events {
		switch ev.Kind {
		case breakpointgame.RoundComplete:
			roundComplete = true
		case breakpointgame.ScoreUpdate:
			// Round tracker bookkeeping lives in the room; the loop only
			// needs to know a round ended, which RoundResults() reports.
		}
	}

	if roundComplete || l.game.IsRoundComplete() || now.After(l.roundDeadline) {
		return l.completeRound()
	}
	return false
}

func (l *Loop) drainInputs() map[breakpointgame.PlayerID][]byte {
	out := make(map[breakpointgame.PlayerID][]byte)
	for {
		select {
		case in := <-l.inputs:
			if !l.broadcaster.IsActivePlayer(in.PlayerID) {
				continue
			}
			out[in.PlayerID] = in.Bytes
			l.game.ApplyInput(in.PlayerID, in.Bytes)
		default:
			return out
		}
	}
}

func (l *Loop) completeRound() (stop bool) {
	results := l.game.RoundResults()
	l.currentRound++
	roundsRemaining := l.currentRound < l.totalRounds

	var nextIdx *uint32
	if roundsRemaining {
		idx := uint32(l.currentRound)
		nextIdx = &idx
	}
	l.broadcaster.BroadcastRoundEnd(results, nextIdx)

	if err := l.broadcaster.Transition(room.TriggerRoundComplete, roundsRemaining); err != nil {
		logging.Warn(context.Background(), "game loop round transition rejected",
			zap.String("room_code", l.roomCode), zap.Error(err))
	}

	if !roundsRemaining {
		l.finishGame()
		return true
	}

	l.roundDeadline = time.Now().Add(l.roundDuration)
	return false
}

func (l *Loop) finishGame() {
	results := l.game.RoundResults()
	l.broadcaster.BroadcastGameEnd(results, "")
	if err := l.broadcaster.Transition(room.TriggerHostNext, false); err != nil {
		logging.Warn(context.Background(), "game loop game-end transition rejected",
			zap.String("room_code", l.roomCode), zap.Error(err))
	}
}
