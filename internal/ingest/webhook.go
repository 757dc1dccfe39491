package ingest

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/breakpointhq/breakpoint/internal/auth"
	"github.com/breakpointhq/breakpoint/internal/event"
)

// WebhookSecrets resolves the HMAC secret configured for a given source
// name (§6 "webhook verification header name and algorithm documented per
// source"). Backed by config.AuthConfig.WebhookSecrets.
type WebhookSecrets interface {
	SecretForSource(source string) (string, bool)
}

type staticWebhookSecrets map[string]string

func (s staticWebhookSecrets) SecretForSource(source string) (string, bool) {
	secret, ok := s[source]
	return secret, ok
}

// NewWebhookSecrets adapts a plain map (as loaded from config) to
// WebhookSecrets.
func NewWebhookSecrets(secrets map[string]string) WebhookSecrets {
	return staticWebhookSecrets(secrets)
}

// webhookSignatureHeader is the header name every supported source signs
// its payload under. All current sources use the GitHub-style
// "X-Hub-Signature-256: sha256=<hex>" convention; a source needing a
// different header would get its own lookup here.
const webhookSignatureHeader = "X-Hub-Signature-256"

// Webhook handles POST /api/v1/webhooks/{source}: verifies the source's
// HMAC signature over the raw body, transforms the payload to the Event
// schema, and inserts it (§4.H).
func (h *Handler) Webhook(c *gin.Context) {
	source := c.Param("source")

	secret, ok := h.secrets.SecretForSource(source)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unknown webhook source"})
		return
	}

	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed payload", "field": "body: unreadable"})
		return
	}

	if err := auth.VerifyWebhookSignature(secret, body, c.GetHeader(webhookSignatureHeader)); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	e := transformWebhookPayload(source, body)
	stored := h.store.Insert(e)
	c.JSON(http.StatusOK, gin.H{"event": fromEvent(stored)})
}

// transformWebhookPayload maps an arbitrary source's JSON body onto the
// Event schema. Sources that already emit the ingestion API's own event
// shape (title/body/priority) pass through directly; known third-party
// shapes (GitHub's workflow_run) get a dedicated mapping; anything else
// falls back to a generic envelope carrying the raw payload as the event
// body, so no webhook is ever rejected purely for an unrecognized shape
// once its signature checks out.
func transformWebhookPayload(source string, body []byte) event.Event {
	if source == "github" {
		if e, ok := transformGitHubWebhook(body); ok {
			return e
		}
	}

	var native eventPayload
	if err := json.Unmarshal(body, &native); err == nil && native.Title != "" {
		native.Source = source
		return native.toEvent(time.Now(), func() string { return uuid.New().String() })
	}

	var generic map[string]any
	_ = json.Unmarshal(body, &generic)

	title := source + " webhook"
	if action, ok := generic["action"].(string); ok && action != "" {
		title = source + ": " + action
	}

	return event.Event{
		ID:        uuid.New().String(),
		EventType: "webhook." + source,
		Source:    source,
		Priority:  event.PriorityNotice,
		Title:     truncateRunes(title, maxTitleRunes),
		Body:      truncateRunes(string(body), maxBodyRunes),
		Timestamp: time.Now(),
	}
}

// githubWorkflowRunPayload is the subset of GitHub's workflow_run webhook
// payload this server maps onto the Event schema.
type githubWorkflowRunPayload struct {
	Action      string `json:"action"`
	WorkflowRun struct {
		Name       string `json:"name"`
		Conclusion string `json:"conclusion"`
		HTMLURL    string `json:"html_url"`
	} `json:"workflow_run"`
	Sender struct {
		Login string `json:"login"`
	} `json:"sender"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
}

// transformGitHubWebhook maps a completed workflow_run event onto the
// Event schema; ok is false for any other GitHub event shape, leaving the
// caller to fall back to the generic transform.
func transformGitHubWebhook(body []byte) (event.Event, bool) {
	var gh githubWorkflowRunPayload
	if err := json.Unmarshal(body, &gh); err != nil {
		return event.Event{}, false
	}
	if gh.Action != "completed" || gh.WorkflowRun.Name == "" {
		return event.Event{}, false
	}

	var eventType string
	var priority event.Priority
	switch gh.WorkflowRun.Conclusion {
	case "failure":
		eventType, priority = "pipeline.failed", event.PriorityNotice
	case "success":
		eventType, priority = "pipeline.succeeded", event.PriorityAmbient
	case "cancelled", "timed_out":
		eventType, priority = "pipeline.cancelled", event.PriorityAmbient
	default:
		eventType, priority = "pipeline."+gh.WorkflowRun.Conclusion, event.PriorityAmbient
	}

	title := gh.WorkflowRun.Name + ": " + gh.WorkflowRun.Conclusion
	if gh.Repository.FullName != "" {
		title = gh.Repository.FullName + " / " + title
	}

	return event.Event{
		ID:        uuid.New().String(),
		EventType: eventType,
		Source:    "github",
		Priority:  priority,
		Title:     truncateRunes(title, maxTitleRunes),
		Body:      truncateRunes(string(body), maxBodyRunes),
		Timestamp: time.Now(),
		URL:       gh.WorkflowRun.HTMLURL,
		Actor:     gh.Sender.Login,
	}, true
}
