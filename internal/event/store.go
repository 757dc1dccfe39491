package event

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/breakpointhq/breakpoint/internal/logging"
	"github.com/breakpointhq/breakpoint/internal/metrics"
)

// UpdateKind distinguishes the two things a subscriber can observe.
type UpdateKind uint8

const (
	UpdateInserted UpdateKind = iota
	UpdateClaimed
	UpdateDismissed
)

// Update is one item delivered on a subscriber's channel.
type Update struct {
	Kind  UpdateKind
	Event Event
}

// ClaimOutcome is the three-way result of a Claim call (§4.B).
type ClaimOutcome uint8

const (
	ClaimOutcomeClaimed ClaimOutcome = iota
	ClaimOutcomeAlreadyClaimed
	ClaimOutcomeNotFound
)

// ClaimResult reports who holds the claim and when, regardless of outcome.
type ClaimResult struct {
	Outcome   ClaimOutcome
	ClaimedBy string
	ClaimedAt time.Time
}

const (
	defaultSubscriberBuffer = 64
	maxConsecutiveMisses    = 5
)

type subscriber struct {
	ch     chan Update
	misses int
	kind   string // label for metrics, e.g. "sse" or "fanout"
}

// Store is the process-wide bounded ring of alert events (§3, §4.B). The
// zero value is not usable; construct with NewStore.
type Store struct {
	mu       sync.RWMutex
	capacity int
	ring     []Event
	filled   []bool
	head     int
	count    int

	index      map[string]int  // event ID -> ring slot
	groupIndex map[string]string // group key -> event ID currently holding it

	subMu     sync.Mutex
	subs      map[uint64]*subscriber
	nextSubID uint64
}

// NewStore creates an event store with the given ring capacity (default
// 1024 per §3 if callers pass <= 0).
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Store{
		capacity:   capacity,
		ring:       make([]Event, capacity),
		filled:     make([]bool, capacity),
		index:      make(map[string]int),
		groupIndex: make(map[string]string),
		subs:       make(map[uint64]*subscriber),
	}
}

// Insert stores e, overwriting the prior event with the same GroupKey (if
// any and if set), and broadcasts the insertion to every subscriber.
func (s *Store) Insert(e Event) Event {
	s.mu.Lock()
	if e.GroupKey != "" {
		if oldID, ok := s.groupIndex[e.GroupKey]; ok {
			if slot, ok2 := s.index[oldID]; ok2 {
				delete(s.index, oldID)
				s.ring[slot] = e
				s.index[e.ID] = slot
				s.groupIndex[e.GroupKey] = e.ID
				s.mu.Unlock()
				s.broadcast(Update{Kind: UpdateInserted, Event: e})
				metrics.EventsStored.WithLabelValues(e.Priority.String()).Inc()
				return e
			}
		}
	}

	slot := s.head
	if s.filled[slot] {
		evicted := s.ring[slot]
		delete(s.index, evicted.ID)
		if evicted.GroupKey != "" && s.groupIndex[evicted.GroupKey] == evicted.ID {
			delete(s.groupIndex, evicted.GroupKey)
		}
	} else {
		s.filled[slot] = true
		s.count++
	}
	s.ring[slot] = e
	s.index[e.ID] = slot
	if e.GroupKey != "" {
		s.groupIndex[e.GroupKey] = e.ID
	}
	s.head = (s.head + 1) % s.capacity
	s.mu.Unlock()

	s.broadcast(Update{Kind: UpdateInserted, Event: e})
	metrics.EventsStored.WithLabelValues(e.Priority.String()).Inc()
	return e
}

// Get looks up an event by ID in O(1).
func (s *Store) Get(id string) (Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	slot, ok := s.index[id]
	if !ok {
		return Event{}, false
	}
	return s.ring[slot].Clone(), true
}

// Claim attempts to set the claim on id to actor. Claim is monotonic: once
// set, it is never overwritten (first writer wins).
func (s *Store) Claim(id, actor string, at time.Time) ClaimResult {
	s.mu.Lock()
	slot, ok := s.index[id]
	if !ok {
		s.mu.Unlock()
		metrics.EventClaims.WithLabelValues("not_found").Inc()
		return ClaimResult{Outcome: ClaimOutcomeNotFound}
	}
	ev := &s.ring[slot]
	if ev.Claimed() {
		result := ClaimResult{Outcome: ClaimOutcomeAlreadyClaimed, ClaimedBy: ev.ClaimedBy, ClaimedAt: ev.ClaimedAt}
		s.mu.Unlock()
		metrics.EventClaims.WithLabelValues("already_claimed").Inc()
		return result
	}
	ev.ClaimedBy = actor
	ev.ClaimedAt = at
	claimed := ev.Clone()
	s.mu.Unlock()

	s.broadcast(Update{Kind: UpdateClaimed, Event: claimed})
	metrics.EventClaims.WithLabelValues("claimed").Inc()
	return ClaimResult{Outcome: ClaimOutcomeClaimed, ClaimedBy: actor, ClaimedAt: at}
}

// Dismiss marks id dismissed for reason and broadcasts the dismissal. A
// second Dismiss call on an already-dismissed event is a no-op (dismissal,
// like claim, only ever happens once).
func (s *Store) Dismiss(id, reason string, at time.Time) bool {
	s.mu.Lock()
	slot, ok := s.index[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	ev := &s.ring[slot]
	if ev.Dismissed {
		s.mu.Unlock()
		return false
	}
	ev.Dismissed = true
	ev.DismissedAt = at
	dismissed := ev.Clone()
	s.mu.Unlock()

	s.broadcast(Update{Kind: UpdateDismissed, Event: dismissed})
	metrics.EventsDismissed.WithLabelValues(reason).Inc()
	return true
}

// RunExpirySweep blocks, dismissing events whose ExpiresAt has passed
// every interval, until ctx is done. Grounded on roommgr.Manager's idle
// sweep ticker loop (§4.G), generalized from room-idle expiry to
// event-TTL expiry.
func (s *Store) RunExpirySweep(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.sweepExpired(now)
		}
	}
}

func (s *Store) sweepExpired(now time.Time) {
	s.mu.RLock()
	var expired []string
	for i := 0; i < s.capacity; i++ {
		if !s.filled[i] {
			continue
		}
		e := s.ring[i]
		if !e.Dismissed && e.Expired(now) {
			expired = append(expired, e.ID)
		}
	}
	s.mu.RUnlock()

	for _, id := range expired {
		s.Dismiss(id, "expired", now)
	}
}

// Snapshot returns every currently stored event, newest first, for the
// status endpoint and SSE replay-on-connect.
func (s *Store) Snapshot() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Event, 0, s.count)
	for i := 0; i < s.capacity; i++ {
		slot := (s.head - 1 - i + s.capacity) % s.capacity
		if !s.filled[slot] {
			continue
		}
		out = append(out, s.ring[slot].Clone())
	}
	return out
}

// Subscribe registers a new broadcast listener. kind labels the subscriber
// for the fanout-drop metric ("sse" or "fanout"). The returned channel is
// closed when the context is done or when the subscriber is disconnected
// for falling behind; callers must keep draining it until it closes.
func (s *Store) Subscribe(ctx context.Context, kind string) <-chan Update {
	s.subMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	sub := &subscriber{ch: make(chan Update, defaultSubscriberBuffer), kind: kind}
	s.subs[id] = sub
	s.subMu.Unlock()

	go func() {
		<-ctx.Done()
		s.removeSubscriber(id)
	}()

	return sub.ch
}

func (s *Store) removeSubscriber(id uint64) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if sub, ok := s.subs[id]; ok {
		close(sub.ch)
		delete(s.subs, id)
	}
}

// broadcast fans u out to every subscriber with a non-blocking send. A
// subscriber that cannot keep up for maxConsecutiveMisses in a row is
// disconnected with a warning log, never silently dropped (§4.B).
func (s *Store) broadcast(u Update) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for id, sub := range s.subs {
		select {
		case sub.ch <- u:
			sub.misses = 0
		default:
			sub.misses++
			if sub.misses >= maxConsecutiveMisses {
				logging.Warn(context.Background(), "event subscriber falling behind, disconnecting",
					zap.String("subscriber_kind", sub.kind),
					zap.Int("misses", sub.misses),
				)
				metrics.AlertFanoutDrops.WithLabelValues(sub.kind).Inc()
				close(sub.ch)
				delete(s.subs, id)
			}
		}
	}
}
