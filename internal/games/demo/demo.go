// Package demo implements a minimal in-tree game module used to exercise
// the game loop, wire codec, and room lifecycle in tests. It plays no
// role in the "golf/platformer/laser-tag/tron" games named in spec.md's
// out-of-scope list — those are external collaborators with no code in
// this repository. Demo's rule is deliberately trivial: each PlayerInput
// is interpreted as a single-byte point delta; the first player to reach
// a configured target score ends the round.
package demo

import (
	"encoding/binary"

	"github.com/breakpointhq/breakpoint/pkg/breakpointgame"
)

const defaultTargetScore = 10

// Game is the demo BreakpointGame implementation.
type Game struct {
	targetScore int
	scores      map[breakpointgame.PlayerID]int
	order       []breakpointgame.PlayerID
	pending     map[breakpointgame.PlayerID][]byte
	roundDone   bool
}

// New constructs a fresh demo game instance. Satisfies game.Factory.
func New() breakpointgame.Game {
	return &Game{
		scores:  make(map[breakpointgame.PlayerID]int),
		pending: make(map[breakpointgame.PlayerID][]byte),
	}
}

func (g *Game) Metadata() breakpointgame.Metadata {
	return breakpointgame.Metadata{
		Name:       "demo",
		MinPlayers: 1,
		MaxPlayers: 8,
		TickRateHz: 10,
	}
}

// Init reads the only configuration this module understands: a single
// little-endian uint32 target score. A missing or short config falls back
// to defaultTargetScore.
func (g *Game) Init(players []breakpointgame.Player, config []byte) error {
	g.targetScore = defaultTargetScore
	if len(config) >= 4 {
		g.targetScore = int(binary.LittleEndian.Uint32(config))
	}
	for _, p := range players {
		g.scores[p.ID] = 0
		g.order = append(g.order, p.ID)
	}
	return nil
}

func (g *Game) Update(_ float64, inputs map[breakpointgame.PlayerID][]byte) []breakpointgame.Event {
	var events []breakpointgame.Event

	for player, input := range inputs {
		if len(input) == 0 {
			continue
		}
		delta := int(int8(input[0]))
		g.scores[player] += delta
		events = append(events, breakpointgame.Event{
			Kind:     breakpointgame.ScoreUpdate,
			PlayerID: player,
			Score:    g.scores[player],
		})
		if g.scores[player] >= g.targetScore {
			g.roundDone = true
		}
	}

	if g.roundDone {
		events = append(events, breakpointgame.Event{Kind: breakpointgame.RoundComplete})
	}

	return events
}

// SerializeState encodes each tracked player's running score as a
// sequence of (playerID uint32, score int32) little-endian pairs, in
// join order. The runtime never inspects this; it exists only so the
// demo module has something concrete to round-trip in tests.
func (g *Game) SerializeState() []byte {
	buf := make([]byte, 0, len(g.order)*8)
	for _, id := range g.order {
		var idBytes [4]byte
		binary.LittleEndian.PutUint32(idBytes[:], uint32(id))
		buf = append(buf, idBytes[:]...)

		var scoreBytes [4]byte
		binary.LittleEndian.PutUint32(scoreBytes[:], uint32(int32(g.scores[id])))
		buf = append(buf, scoreBytes[:]...)
	}
	return buf
}

func (g *Game) ApplyInput(player breakpointgame.PlayerID, input []byte) {
	g.pending[player] = input
}

func (g *Game) PlayerJoined(p breakpointgame.Player) {
	if _, ok := g.scores[p.ID]; !ok {
		g.scores[p.ID] = 0
		g.order = append(g.order, p.ID)
	}
}

func (g *Game) PlayerLeft(player breakpointgame.PlayerID) {
	delete(g.pending, player)
}

func (g *Game) IsRoundComplete() bool {
	return g.roundDone
}

func (g *Game) RoundResults() []breakpointgame.RoundResult {
	results := make([]breakpointgame.RoundResult, 0, len(g.order))
	for _, id := range g.order {
		results = append(results, breakpointgame.RoundResult{PlayerID: id, Score: g.scores[id]})
	}
	return results
}
