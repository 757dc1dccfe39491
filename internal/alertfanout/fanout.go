// Package alertfanout runs the long-lived task that bridges the event
// store's broadcast channel to every connected WS session, across all
// rooms (§4.I). Grounded on the teacher's bus.Service consumer loop shape
// (subscribe, range over updates until the channel closes, log and
// continue on transient encode failures) generalized from a single Redis
// topic to the in-process event.Store subscription.
package alertfanout

import (
	"context"

	"go.uber.org/zap"

	"github.com/breakpointhq/breakpoint/internal/event"
	"github.com/breakpointhq/breakpoint/internal/logging"
	"github.com/breakpointhq/breakpoint/internal/metrics"
	"github.com/breakpointhq/breakpoint/internal/wire"
)

// Broadcaster is the subset of *roommgr.Manager the fan-out task needs:
// delivery to every session in every room, not scoped to one room code.
type Broadcaster interface {
	BroadcastAll(frame []byte) (delivered, dropped int)
}

// Run subscribes to store and translates every insert/claim into an
// AlertEvent/AlertClaimed frame, broadcasting it to every connected
// session via bcast. It blocks until ctx is done or the store's
// subscriber channel is closed (store disconnected this subscriber for
// falling behind, which cannot happen to a dedicated fanout subscriber
// under normal load but is handled the same as any other disconnect:
// Run simply returns, and the caller may resubscribe).
func Run(ctx context.Context, store *event.Store, bcast Broadcaster) {
	updates := store.Subscribe(ctx, "fanout")

	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				logging.Warn(ctx, "alertfanout: subscriber channel closed, stopping")
				return
			}
			frame, err := encode(u)
			if err != nil {
				logging.Error(ctx, "alertfanout: encode failed", zap.Error(err), zap.String("event_id", u.Event.ID))
				continue
			}

			delivered, dropped := bcast.BroadcastAll(frame)
			metrics.AlertFanoutDrops.WithLabelValues("broadcast").Add(float64(dropped))
			logging.Info(ctx, "alertfanout: delivered alert",
				zap.String("event_id", u.Event.ID),
				zap.Int("delivered", delivered),
				zap.Int("dropped", dropped),
			)
		}
	}
}

func encode(u event.Update) ([]byte, error) {
	switch u.Kind {
	case event.UpdateClaimed:
		return wire.Encode(wire.TagAlertClaimed, wire.AlertClaimed{
			EventID:         u.Event.ID,
			ClaimedBy:       u.Event.ClaimedBy,
			ClaimedAtMillis: uint64(u.Event.ClaimedAt.UnixMilli()),
		})
	case event.UpdateDismissed:
		return wire.Encode(wire.TagAlertDismissed, wire.AlertDismissed{
			EventID: u.Event.ID,
			Reason:  "expired",
		})
	}

	var expires uint64
	if !u.Event.ExpiresAt.IsZero() {
		expires = uint64(u.Event.ExpiresAt.UnixMilli())
	}
	var claimedAt uint64
	if u.Event.Claimed() {
		claimedAt = uint64(u.Event.ClaimedAt.UnixMilli())
	}

	return wire.Encode(wire.TagAlertEvent, wire.AlertEvent{
		ID:              u.Event.ID,
		EventType:       u.Event.EventType,
		Source:          u.Event.Source,
		Priority:        uint8(u.Event.Priority),
		Title:           u.Event.Title,
		Body:            u.Event.Body,
		TimestampMillis: uint64(u.Event.Timestamp.UnixMilli()),
		URL:             u.Event.URL,
		Actor:           u.Event.Actor,
		Tags:            u.Event.Tags,
		ActionRequired:  u.Event.ActionRequired,
		GroupKey:        u.Event.GroupKey,
		ExpiresAtMillis: expires,
		Metadata:        u.Event.Metadata,
		ClaimedBy:       u.Event.ClaimedBy,
		ClaimedAtMillis: claimedAt,
	})
}
