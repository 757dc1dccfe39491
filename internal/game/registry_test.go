package game

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breakpointhq/breakpoint/pkg/breakpointgame"
)

type stubGame struct{}

func (stubGame) Metadata() breakpointgame.Metadata {
	return breakpointgame.Metadata{Name: "stub", MinPlayers: 1, MaxPlayers: 8, TickRateHz: 10}
}
func (stubGame) Init([]breakpointgame.Player, []byte) error                       { return nil }
func (stubGame) Update(float64, map[breakpointgame.PlayerID][]byte) []breakpointgame.Event { return nil }
func (stubGame) SerializeState() []byte                                          { return nil }
func (stubGame) ApplyInput(breakpointgame.PlayerID, []byte)                      {}
func (stubGame) PlayerJoined(breakpointgame.Player)                              {}
func (stubGame) PlayerLeft(breakpointgame.PlayerID)                              {}
func (stubGame) IsRoundComplete() bool                                           { return false }
func (stubGame) RoundResults() []breakpointgame.RoundResult                      { return nil }

func TestRegistry_RegisterAndNew(t *testing.T) {
	r := NewRegistry()
	r.Register("stub", func() breakpointgame.Game { return stubGame{} })

	g, err := r.New("stub")
	require.NoError(t, err)
	assert.Equal(t, "stub", g.Metadata().Name)
}

func TestRegistry_UnknownGame(t *testing.T) {
	r := NewRegistry()
	_, err := r.New("does-not-exist")
	assert.Error(t, err)
}

func TestRegistry_Names_Sorted(t *testing.T) {
	r := NewRegistry()
	r.Register("tron", func() breakpointgame.Game { return stubGame{} })
	r.Register("golf", func() breakpointgame.Game { return stubGame{} })

	assert.Equal(t, []string{"golf", "tron"}, r.Names())
}

func TestRegistry_OverwriteRegistration(t *testing.T) {
	r := NewRegistry()
	r.Register("stub", func() breakpointgame.Game { return stubGame{} })
	r.Register("stub", func() breakpointgame.Game { return stubGame{} })

	assert.Equal(t, []string{"stub"}, r.Names())
}
