package runtime

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breakpointhq/breakpoint/internal/game"
	"github.com/breakpointhq/breakpoint/internal/games/demo"
	"github.com/breakpointhq/breakpoint/internal/room"
	"github.com/breakpointhq/breakpoint/internal/roommgr"
	"github.com/breakpointhq/breakpoint/internal/wire"
	"github.com/breakpointhq/breakpoint/pkg/breakpointgame"
)

type recordingSink struct {
	mu     sync.Mutex
	frames [][]byte
}

func (s *recordingSink) Send(frame []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, frame)
	return true
}

func (s *recordingSink) hasTag(tag wire.Tag) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.frames {
		if len(f) > 0 && wire.Tag(f[0]) == tag {
			return true
		}
	}
	return false
}

func newRoomWithCoordinator(t *testing.T) (*roommgr.Manager, *Coordinator, *room.Room, *room.Player) {
	t.Helper()
	registry := game.NewRegistry()
	registry.Register("demo", demo.New)

	mgr := roommgr.New(0, 0, 0, 0)
	coord := New(mgr, registry)
	coord.Wire()

	cfg, err := room.NewConfig("demo", 3, 60, 8, nil)
	require.NoError(t, err)
	r, host, err := mgr.CreateRoom("Host", room.RGB{1, 2, 3}, cfg, "127.0.0.1")
	require.NoError(t, err)

	return mgr, coord, r, host
}

func TestCoordinator_StartGameSpawnsLoopAndBroadcastsGameStart(t *testing.T) {
	mgr, _, r, host := newRoomWithCoordinator(t)

	sink := &recordingSink{}
	mgr.RegisterSink(r.Code, host.ID, sink)

	require.NoError(t, mgr.StartGame(r.Code, host.ID))

	require.Eventually(t, func() bool {
		return sink.hasTag(wire.TagGameStart)
	}, 4*time.Second, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		return r.CurrentPhase() == room.PhaseInGame
	}, time.Second, 10*time.Millisecond)
}

func TestCoordinator_RouteInputReachesGameAndEndsRound(t *testing.T) {
	mgr, coord, r, host := newRoomWithCoordinator(t)

	sink := &recordingSink{}
	mgr.RegisterSink(r.Code, host.ID, sink)
	require.NoError(t, mgr.StartGame(r.Code, host.ID))

	require.Eventually(t, func() bool {
		return r.CurrentPhase() == room.PhaseInGame
	}, 4*time.Second, 10*time.Millisecond)

	for i := 0; i < 15; i++ {
		delivered := coord.RouteInput(r.Code, host.ID, uint64(i), []byte{10})
		assert.True(t, delivered)
		time.Sleep(20 * time.Millisecond)
	}

	require.Eventually(t, func() bool {
		return sink.hasTag(wire.TagRoundEnd)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCoordinator_RouteInputUnknownRoomReturnsFalse(t *testing.T) {
	_, coord, _, _ := newRoomWithCoordinator(t)
	assert.False(t, coord.RouteInput("NOPE01", 1, 0, []byte{1}))
}

func TestCoordinator_LatestStateUnknownRoomReturnsFalse(t *testing.T) {
	_, coord, _, _ := newRoomWithCoordinator(t)
	_, _, ok := coord.LatestState("NOPE01")
	assert.False(t, ok)
}

func TestCoordinator_LatestStateReflectsMostRecentTick(t *testing.T) {
	mgr, coord, r, host := newRoomWithCoordinator(t)

	sink := &recordingSink{}
	mgr.RegisterSink(r.Code, host.ID, sink)
	require.NoError(t, mgr.StartGame(r.Code, host.ID))

	require.Eventually(t, func() bool {
		_, _, ok := coord.LatestState(r.Code)
		return ok
	}, 4*time.Second, 10*time.Millisecond)

	bytes, tick, ok := coord.LatestState(r.Code)
	require.True(t, ok)
	assert.NotNil(t, bytes)
	assert.Greater(t, tick, uint64(0))
}

// panicGame panics on its first Update call, exercising the game-loop
// task's panic recovery (§7).
type panicGame struct{}

func (panicGame) Metadata() breakpointgame.Metadata {
	return breakpointgame.Metadata{Name: "panicky", MinPlayers: 1, MaxPlayers: 8, TickRateHz: 10}
}
func (panicGame) Init(players []breakpointgame.Player, config []byte) error { return nil }
func (panicGame) Update(dtSecs float64, inputs map[breakpointgame.PlayerID][]byte) []breakpointgame.Event {
	panic("boom")
}
func (panicGame) SerializeState() []byte                                    { return nil }
func (panicGame) ApplyInput(player breakpointgame.PlayerID, input []byte)    {}
func (panicGame) PlayerJoined(player breakpointgame.Player)                  {}
func (panicGame) PlayerLeft(player breakpointgame.PlayerID)                  {}
func (panicGame) IsRoundComplete() bool                                      { return false }
func (panicGame) RoundResults() []breakpointgame.RoundResult                 { return nil }

func TestCoordinator_PanicInGameLoopClosesOnlyThatRoom(t *testing.T) {
	registry := game.NewRegistry()
	registry.Register("panicky", func() breakpointgame.Game { return &panicGame{} })
	registry.Register("demo", demo.New)

	mgr := roommgr.New(0, 0, 0, 0)
	coord := New(mgr, registry)
	coord.Wire()

	badCfg, err := room.NewConfig("panicky", 3, 60, 8, nil)
	require.NoError(t, err)
	badRoom, badHost, err := mgr.CreateRoom("Host", room.RGB{1, 2, 3}, badCfg, "127.0.0.1")
	require.NoError(t, err)

	goodCfg, err := room.NewConfig("demo", 3, 60, 8, nil)
	require.NoError(t, err)
	goodRoom, goodHost, err := mgr.CreateRoom("Host2", room.RGB{4, 5, 6}, goodCfg, "127.0.0.2")
	require.NoError(t, err)

	badSink := &recordingSink{}
	mgr.RegisterSink(badRoom.Code, badHost.ID, badSink)
	goodSink := &recordingSink{}
	mgr.RegisterSink(goodRoom.Code, goodHost.ID, goodSink)

	require.NoError(t, mgr.StartGame(badRoom.Code, badHost.ID))
	require.NoError(t, mgr.StartGame(goodRoom.Code, goodHost.ID))

	require.Eventually(t, func() bool {
		return badRoom.CurrentPhase() == room.PhaseClosing && badSink.hasTag(wire.TagGameEnd)
	}, 4*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return goodRoom.CurrentPhase() == room.PhaseInGame
	}, 4*time.Second, 10*time.Millisecond)
}
