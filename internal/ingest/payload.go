// Package ingest implements the §4.H REST/SSE ingestion API: event
// submission, idempotent claiming, a status snapshot, an SSE stream, and
// per-source webhook intake. Grounded on the teacher's Gin handler shape
// (bind, validate, respond with gin.H) generalized from session/room
// endpoints to the event store.
package ingest

import (
	"time"

	"github.com/breakpointhq/breakpoint/internal/event"
)

// eventPayload is the JSON shape accepted by POST /api/v1/events and
// returned by the status/stream/claim endpoints. Timestamps are ISO-8601
// strings in JSON, per §6 ("Timestamps as ISO-8601 strings in JSON APIs").
type eventPayload struct {
	ID             string            `json:"id,omitempty"`
	EventType      string            `json:"event_type" binding:"required"`
	Source         string            `json:"source" binding:"required"`
	Priority       string            `json:"priority"`
	Title          string            `json:"title" binding:"required"`
	Body           string            `json:"body"`
	Timestamp      string            `json:"timestamp,omitempty"`
	URL            string            `json:"url,omitempty"`
	Actor          string            `json:"actor,omitempty"`
	Tags           []string          `json:"tags,omitempty"`
	ActionRequired bool              `json:"action_required,omitempty"`
	GroupKey       string            `json:"group_key,omitempty"`
	ExpiresAt      string            `json:"expires_at,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	ClaimedBy      string            `json:"claimed_by,omitempty"`
	ClaimedAt      string            `json:"claimed_at,omitempty"`
}

const (
	maxTitleRunes = 120
	maxBodyRunes  = 2000
	maxBatchSize  = 100
)

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// toEvent converts a validated payload into an event.Event, filling ID and
// Timestamp with caller-supplied defaults when absent. now and newID are
// injected so the conversion stays deterministic and testable.
func (p eventPayload) toEvent(now time.Time, newID func() string) event.Event {
	id := p.ID
	if id == "" {
		id = newID()
	}

	ts := now
	if p.Timestamp != "" {
		if parsed, err := time.Parse(time.RFC3339, p.Timestamp); err == nil {
			ts = parsed
		}
	}

	var expires time.Time
	if p.ExpiresAt != "" {
		if parsed, err := time.Parse(time.RFC3339, p.ExpiresAt); err == nil {
			expires = parsed
		}
	}

	return event.Event{
		ID:             id,
		EventType:      p.EventType,
		Source:         p.Source,
		Priority:       event.ParsePriority(p.Priority),
		Title:          truncateRunes(p.Title, maxTitleRunes),
		Body:           truncateRunes(p.Body, maxBodyRunes),
		Timestamp:      ts,
		URL:            p.URL,
		Actor:          p.Actor,
		Tags:           p.Tags,
		ActionRequired: p.ActionRequired,
		GroupKey:       p.GroupKey,
		ExpiresAt:      expires,
		Metadata:       p.Metadata,
	}
}

// fromEvent renders a stored event back to its JSON wire shape.
func fromEvent(e event.Event) eventPayload {
	p := eventPayload{
		ID:             e.ID,
		EventType:      e.EventType,
		Source:         e.Source,
		Priority:       e.Priority.String(),
		Title:          e.Title,
		Body:           e.Body,
		Timestamp:      e.Timestamp.Format(time.RFC3339),
		URL:            e.URL,
		Actor:          e.Actor,
		Tags:           e.Tags,
		ActionRequired: e.ActionRequired,
		GroupKey:       e.GroupKey,
		Metadata:       e.Metadata,
	}
	if !e.ExpiresAt.IsZero() {
		p.ExpiresAt = e.ExpiresAt.Format(time.RFC3339)
	}
	if e.Claimed() {
		p.ClaimedBy = e.ClaimedBy
		p.ClaimedAt = e.ClaimedAt.Format(time.RFC3339)
	}
	return p
}
