package event

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsert_GetByID(t *testing.T) {
	s := NewStore(4)
	e := Event{ID: "e1", EventType: "test", Priority: PriorityNotice, Title: "hi"}
	s.Insert(e)

	got, ok := s.Get("e1")
	require.True(t, ok)
	assert.Equal(t, "hi", got.Title)
}

func TestInsert_GroupKeyDedup_ReplacesNewestWithSameKey(t *testing.T) {
	s := NewStore(4)
	s.Insert(Event{ID: "e1", GroupKey: "ci:main", Title: "first"})
	s.Insert(Event{ID: "e2", GroupKey: "ci:main", Title: "second"})

	_, ok := s.Get("e1")
	assert.False(t, ok, "first event with the group key should be replaced")

	got, ok := s.Get("e2")
	require.True(t, ok)
	assert.Equal(t, "second", got.Title)

	snap := s.Snapshot()
	require.Len(t, snap, 1)
}

func TestInsert_RingEviction_BeyondCapacity(t *testing.T) {
	s := NewStore(2)
	s.Insert(Event{ID: "e1"})
	s.Insert(Event{ID: "e2"})
	s.Insert(Event{ID: "e3"})

	_, ok := s.Get("e1")
	assert.False(t, ok, "oldest event should be evicted once capacity is exceeded")

	_, ok = s.Get("e2")
	assert.True(t, ok)
	_, ok = s.Get("e3")
	assert.True(t, ok)

	assert.Len(t, s.Snapshot(), 2)
}

func TestClaim_FirstWriterWins(t *testing.T) {
	s := NewStore(4)
	s.Insert(Event{ID: "e1"})

	now := time.Unix(1700000000, 0)
	result := s.Claim("e1", "alice", now)
	assert.Equal(t, ClaimOutcomeClaimed, result.Outcome)
	assert.Equal(t, "alice", result.ClaimedBy)

	later := now.Add(time.Minute)
	result2 := s.Claim("e1", "bob", later)
	assert.Equal(t, ClaimOutcomeAlreadyClaimed, result2.Outcome)
	assert.Equal(t, "alice", result2.ClaimedBy)
	assert.Equal(t, now, result2.ClaimedAt)
}

func TestClaim_NotFound(t *testing.T) {
	s := NewStore(4)
	result := s.Claim("missing", "alice", time.Now())
	assert.Equal(t, ClaimOutcomeNotFound, result.Outcome)
}

func TestDismiss_MarksEventAndIsIdempotent(t *testing.T) {
	s := NewStore(4)
	s.Insert(Event{ID: "e1"})

	now := time.Unix(1700000000, 0)
	assert.True(t, s.Dismiss("e1", "expired", now))

	got, ok := s.Get("e1")
	require.True(t, ok)
	assert.True(t, got.Dismissed)
	assert.Equal(t, now, got.DismissedAt)

	assert.False(t, s.Dismiss("e1", "expired", now.Add(time.Minute)), "second dismiss should be a no-op")
}

func TestDismiss_NotFound(t *testing.T) {
	s := NewStore(4)
	assert.False(t, s.Dismiss("missing", "expired", time.Now()))
}

func TestSweepExpired_DismissesPastExpiry(t *testing.T) {
	s := NewStore(4)
	now := time.Unix(1700000000, 0)
	s.Insert(Event{ID: "e1", ExpiresAt: now.Add(-time.Second)})
	s.Insert(Event{ID: "e2", ExpiresAt: now.Add(time.Hour)})
	s.Insert(Event{ID: "e3"})

	s.sweepExpired(now)

	e1, _ := s.Get("e1")
	assert.True(t, e1.Dismissed, "expired event should be dismissed")

	e2, _ := s.Get("e2")
	assert.False(t, e2.Dismissed, "not-yet-expired event should be untouched")

	e3, _ := s.Get("e3")
	assert.False(t, e3.Dismissed, "event with no expiry should be untouched")
}

func TestSubscribe_ReceivesDismissal(t *testing.T) {
	s := NewStore(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updates := s.Subscribe(ctx, "test")

	s.Insert(Event{ID: "e1"})
	<-updates // drain the insert

	s.Dismiss("e1", "expired", time.Now())
	u := <-updates
	assert.Equal(t, UpdateDismissed, u.Kind)
	assert.Equal(t, "e1", u.Event.ID)
}

func TestSubscribe_ReceivesInsertAndClaim(t *testing.T) {
	s := NewStore(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := s.Subscribe(ctx, "test")

	s.Insert(Event{ID: "e1"})
	upd := <-ch
	assert.Equal(t, UpdateInserted, upd.Kind)
	assert.Equal(t, "e1", upd.Event.ID)

	s.Claim("e1", "alice", time.Now())
	upd2 := <-ch
	assert.Equal(t, UpdateClaimed, upd2.Kind)
	assert.Equal(t, "alice", upd2.Event.ClaimedBy)
}

func TestSubscribe_ContextCancelClosesChannel(t *testing.T) {
	s := NewStore(4)
	ctx, cancel := context.WithCancel(context.Background())
	ch := s.Subscribe(ctx, "test")
	cancel()

	require.Eventually(t, func() bool {
		_, open := <-ch
		return !open
	}, time.Second, 10*time.Millisecond)
}

func TestBroadcast_SlowSubscriberDisconnected(t *testing.T) {
	s := NewStore(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := s.Subscribe(ctx, "slow")

	for i := 0; i < defaultSubscriberBuffer+maxConsecutiveMisses+1; i++ {
		s.Insert(Event{ID: string(rune('a' + i%26))})
	}

	_, stillOpen := <-ch
	for stillOpen {
		_, stillOpen = <-ch
	}
	assert.False(t, stillOpen)
}

func TestSnapshot_NewestFirst(t *testing.T) {
	s := NewStore(4)
	s.Insert(Event{ID: "e1"})
	s.Insert(Event{ID: "e2"})
	s.Insert(Event{ID: "e3"})

	snap := s.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "e3", snap[0].ID)
	assert.Equal(t, "e1", snap[2].ID)
}
