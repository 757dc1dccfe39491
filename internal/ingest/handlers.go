package ingest

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/breakpointhq/breakpoint/internal/event"
	"github.com/breakpointhq/breakpoint/internal/logging"
	"github.com/breakpointhq/breakpoint/internal/roommgr"
)

// Handler groups the ingestion API's dependencies: the event store it reads
// from and writes to, and the room manager it reports a status snapshot
// for. Routes are registered with RegisterRoutes.
type Handler struct {
	store   *event.Store
	rooms   *roommgr.Manager
	secrets WebhookSecrets
}

// NewHandler constructs a Handler. rooms may be nil in tests that don't
// exercise /api/v1/status. secrets may be nil (webhooks then always 401)
// if the deployment accepts no webhook sources.
func NewHandler(store *event.Store, rooms *roommgr.Manager, secrets WebhookSecrets) *Handler {
	if secrets == nil {
		secrets = staticWebhookSecrets(nil)
	}
	return &Handler{store: store, rooms: rooms, secrets: secrets}
}

// RegisterRoutes wires the §4.H endpoints. authed should already carry the
// bearer-auth middleware (every endpoint here except webhooks requires
// it); open carries no auth, since webhook requests authenticate via their
// own per-source signature instead of the ingestion bearer token.
func (h *Handler) RegisterRoutes(authed, open *gin.RouterGroup, limiterMiddleware gin.HandlerFunc) {
	authed.POST("/events", limiterMiddleware, h.PostEvents)
	authed.POST("/events/:id/claim", h.ClaimEvent)
	authed.GET("/status", h.Status)
	authed.GET("/events/stream", h.Stream)
	open.POST("/webhooks/:source", h.Webhook)
}

// PostEvents handles POST /api/v1/events: a single event object or a bounded
// batch (max 100), inserted into the store (§4.H).
func (h *Handler) PostEvents(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed payload", "field": "body: unreadable"})
		return
	}

	trimmed := bytes.TrimSpace(raw)
	var batch []eventPayload
	if bytes.HasPrefix(trimmed, []byte("[")) {
		if err := json.Unmarshal(trimmed, &batch); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "malformed payload", "field": bindFieldError(err)})
			return
		}
	} else {
		var single eventPayload
		if err := json.Unmarshal(trimmed, &single); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "malformed payload", "field": bindFieldError(err)})
			return
		}
		batch = []eventPayload{single}
	}

	if len(batch) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed payload", "field": "body: at least one event required"})
		return
	}
	if len(batch) > maxBatchSize {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed payload", "field": "body: batch exceeds 100 events"})
		return
	}

	now := time.Now()
	stored := make([]eventPayload, 0, len(batch))
	for _, p := range batch {
		if p.EventType == "" || p.Source == "" || p.Title == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "malformed payload", "field": "event_type, source, and title are required"})
			return
		}
		e := h.store.Insert(p.toEvent(now, func() string { return uuid.New().String() }))
		stored = append(stored, fromEvent(e))
	}

	logging.Info(c.Request.Context(), "ingested events", zap.Int("count", len(stored)))
	c.JSON(http.StatusOK, gin.H{"events": stored})
}

// ClaimEvent handles POST /api/v1/events/{id}/claim: idempotent, returns the
// current claim whether it was made by this call or already existed.
func (h *Handler) ClaimEvent(c *gin.Context) {
	id := c.Param("id")

	var body struct {
		Actor string `json:"actor"`
	}
	_ = c.ShouldBindJSON(&body)
	actor := body.Actor
	if actor == "" {
		actor = "unknown"
	}

	result := h.store.Claim(id, actor, time.Now())
	if result.Outcome == event.ClaimOutcomeNotFound {
		c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":          id,
		"claimed_by":  result.ClaimedBy,
		"claimed_at":  result.ClaimedAt.Format(time.RFC3339),
		"pre_existing": result.Outcome == event.ClaimOutcomeAlreadyClaimed,
	})
}

// Status handles GET /api/v1/status: a snapshot of active sources, pending
// actions, and recent counts (§4.H).
func (h *Handler) Status(c *gin.Context) {
	snapshot := h.store.Snapshot()

	sources := map[string]int{}
	pending := 0
	for _, e := range snapshot {
		sources[e.Source]++
		if e.ActionRequired && !e.Claimed() {
			pending++
		}
	}

	roomCount := 0
	if h.rooms != nil {
		roomCount = h.rooms.RoomCount()
	}

	c.JSON(http.StatusOK, gin.H{
		"active_sources":  sources,
		"pending_actions": pending,
		"recent_events":   len(snapshot),
		"active_rooms":    roomCount,
	})
}

// bindFieldError extracts a short, field-level reason string from a Gin
// binding error for the 400 response body (§4.H: "malformed payload with a
// field-level reason").
func bindFieldError(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
