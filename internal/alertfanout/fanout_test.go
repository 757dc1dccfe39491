package alertfanout

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breakpointhq/breakpoint/internal/event"
	"github.com/breakpointhq/breakpoint/internal/wire"
)

type recordingBroadcaster struct {
	mu     sync.Mutex
	frames [][]byte
}

func (b *recordingBroadcaster) BroadcastAll(frame []byte) (int, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frames = append(b.frames, append([]byte(nil), frame...))
	return 1, 0
}

func (b *recordingBroadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.frames)
}

func (b *recordingBroadcaster) last() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.frames[len(b.frames)-1]
}

func TestRun_InsertProducesAlertEventFrame(t *testing.T) {
	store := event.NewStore(16)
	bcast := &recordingBroadcaster{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go Run(ctx, store, bcast)

	time.Sleep(10 * time.Millisecond) // let Run subscribe before inserting
	store.Insert(event.Event{ID: "evt-1", EventType: "deploy.failed", Source: "ci", Title: "broke"})

	require.Eventually(t, func() bool { return bcast.count() == 1 }, time.Second, 5*time.Millisecond)

	var decoded wire.AlertEvent
	require.NoError(t, wire.DecodeFrame(bcast.last(), wire.TagAlertEvent, &decoded))
	assert.Equal(t, "evt-1", decoded.ID)
	assert.Equal(t, "deploy.failed", decoded.EventType)
}

func TestRun_ClaimProducesAlertClaimedFrame(t *testing.T) {
	store := event.NewStore(16)
	bcast := &recordingBroadcaster{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go Run(ctx, store, bcast)

	time.Sleep(10 * time.Millisecond)
	store.Insert(event.Event{ID: "evt-2", EventType: "x", Source: "s", Title: "t"})
	require.Eventually(t, func() bool { return bcast.count() == 1 }, time.Second, 5*time.Millisecond)

	store.Claim("evt-2", "alice", time.Now())
	require.Eventually(t, func() bool { return bcast.count() == 2 }, time.Second, 5*time.Millisecond)

	var decoded wire.AlertClaimed
	require.NoError(t, wire.DecodeFrame(bcast.last(), wire.TagAlertClaimed, &decoded))
	assert.Equal(t, "evt-2", decoded.EventID)
	assert.Equal(t, "alice", decoded.ClaimedBy)
}

func TestRun_DismissProducesAlertDismissedFrame(t *testing.T) {
	store := event.NewStore(16)
	bcast := &recordingBroadcaster{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go Run(ctx, store, bcast)

	time.Sleep(10 * time.Millisecond)
	store.Insert(event.Event{ID: "evt-3", EventType: "x", Source: "s", Title: "t"})
	require.Eventually(t, func() bool { return bcast.count() == 1 }, time.Second, 5*time.Millisecond)

	store.Dismiss("evt-3", "expired", time.Now())
	require.Eventually(t, func() bool { return bcast.count() == 2 }, time.Second, 5*time.Millisecond)

	var decoded wire.AlertDismissed
	require.NoError(t, wire.DecodeFrame(bcast.last(), wire.TagAlertDismissed, &decoded))
	assert.Equal(t, "evt-3", decoded.EventID)
	assert.Equal(t, "expired", decoded.Reason)
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	store := event.NewStore(16)
	bcast := &recordingBroadcaster{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Run(ctx, store, bcast)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after context cancel")
	}
}
