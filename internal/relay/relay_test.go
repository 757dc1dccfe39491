package relay

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breakpointhq/breakpoint/internal/wire"
)

type recordingSink struct {
	mu     sync.Mutex
	frames [][]byte
	accept bool
}

func newRecordingSink() *recordingSink { return &recordingSink{accept: true} }

func (s *recordingSink) Send(frame []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.accept {
		return false
	}
	s.frames = append(s.frames, frame)
	return true
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func TestJoin_RejectsDuplicateClientID(t *testing.T) {
	m := New()
	require.NoError(t, m.Join("AB12CD", "alice", newRecordingSink()))
	assert.ErrorIs(t, m.Join("AB12CD", "alice", newRecordingSink()), ErrClientExists)
}

func TestJoin_RejectsBeyondCapacity(t *testing.T) {
	m := New()
	code := "FULL01"
	for i := 0; i < DefaultMaxClientsPerRoom; i++ {
		require.NoError(t, m.Join(code, ClientID(fmt.Sprintf("client-%d", i)), newRecordingSink()))
	}
	assert.ErrorIs(t, m.Join(code, "overflow", newRecordingSink()), ErrRoomFull)
}

func TestRoute_ForwardsOpaqueFrameToOthersNotSender(t *testing.T) {
	m := New()
	code := "ROOM01"
	alice, bob := newRecordingSink(), newRecordingSink()
	require.NoError(t, m.Join(code, "alice", alice))
	require.NoError(t, m.Join(code, "bob", bob))

	frame, err := wire.Encode(wire.TagGameState, wire.GameState{Tick: 1, StateBytes: []byte{1, 2}})
	require.NoError(t, err)

	isControl := m.Route(context.Background(), code, "alice", frame)
	assert.False(t, isControl)
	assert.Equal(t, 0, alice.count())
	assert.Equal(t, 1, bob.count())
}

func TestRoute_RecognizesControlFrameWithoutForwarding(t *testing.T) {
	m := New()
	code := "ROOM02"
	alice, bob := newRecordingSink(), newRecordingSink()
	require.NoError(t, m.Join(code, "alice", alice))
	require.NoError(t, m.Join(code, "bob", bob))

	frame, err := wire.Encode(wire.TagJoinRoom, wire.JoinRoom{RoomCode: code, PlayerName: "Carl"})
	require.NoError(t, err)

	isControl := m.Route(context.Background(), code, "alice", frame)
	assert.True(t, isControl)
	assert.Equal(t, 0, bob.count())
}

func TestRoute_CountsDropsPerClient(t *testing.T) {
	m := New()
	code := "ROOM03"
	alice := newRecordingSink()
	bob := newRecordingSink()
	bob.accept = false
	require.NoError(t, m.Join(code, "alice", alice))
	require.NoError(t, m.Join(code, "bob", bob))

	frame, err := wire.Encode(wire.TagGameState, wire.GameState{Tick: 1})
	require.NoError(t, err)
	m.Route(context.Background(), code, "alice", frame)

	assert.Equal(t, 1, m.DropCount(code, "bob"))
	assert.Equal(t, 0, m.DropCount(code, "alice"))
}

func TestLeave_RemovesRoomWhenEmpty(t *testing.T) {
	m := New()
	code := "ROOM04"
	require.NoError(t, m.Join(code, "alice", newRecordingSink()))
	assert.Equal(t, 1, m.RoomCount())

	m.Leave(code, "alice")
	assert.Equal(t, 0, m.RoomCount())
}

func TestLeave_KeepsRoomWhileOthersRemain(t *testing.T) {
	m := New()
	code := "ROOM05"
	require.NoError(t, m.Join(code, "alice", newRecordingSink()))
	require.NoError(t, m.Join(code, "bob", newRecordingSink()))

	m.Leave(code, "alice")
	assert.Equal(t, 1, m.RoomCount())
	assert.Equal(t, 1, m.ClientCount(code))
}
