// Package event implements the bounded-ring alert event store (§4.B): an
// append-only ring of bounded capacity with O(1) insertion, O(1) lookup by
// ID, group-key dedup, and a broadcast channel fanned out to any number of
// subscribers (SSE handlers, the alert fan-out task).
package event

import "time"

// Priority is the urgency tier an ingested event carries.
type Priority uint8

const (
	PriorityAmbient Priority = iota
	PriorityNotice
	PriorityUrgent
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityAmbient:
		return "ambient"
	case PriorityNotice:
		return "notice"
	case PriorityUrgent:
		return "urgent"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ParsePriority maps the ingestion API's lowercase priority string onto a
// Priority, defaulting to Ambient for anything unrecognized.
func ParsePriority(s string) Priority {
	switch s {
	case "notice":
		return PriorityNotice
	case "urgent":
		return PriorityUrgent
	case "critical":
		return PriorityCritical
	default:
		return PriorityAmbient
	}
}

// Event is one stored alert record (§3 "Event").
type Event struct {
	ID             string
	EventType      string
	Source         string
	Priority       Priority
	Title          string // truncated to 120 runes by the caller before Insert
	Body           string // truncated to 2000 runes by the caller before Insert
	Timestamp      time.Time
	URL            string
	Actor          string
	Tags           []string
	ActionRequired bool
	GroupKey       string
	ExpiresAt      time.Time // zero value means unset
	Metadata       map[string]string

	ClaimedBy string    // empty means unclaimed
	ClaimedAt time.Time // zero value means unclaimed

	Dismissed   bool
	DismissedAt time.Time
}

// Claimed reports whether the event already has an owner.
func (e *Event) Claimed() bool {
	return e.ClaimedBy != ""
}

// Expired reports whether e carries an ExpiresAt that has passed as of now.
func (e *Event) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// Clone returns a deep-enough copy safe to hand to a caller outside the
// store's lock (Tags/Metadata are copied; the Event itself is a value).
func (e Event) Clone() Event {
	out := e
	if e.Tags != nil {
		out.Tags = append([]string(nil), e.Tags...)
	}
	if e.Metadata != nil {
		out.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}
