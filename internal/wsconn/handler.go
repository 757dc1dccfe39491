package wsconn

import (
	"net/http"
	"net/url"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/breakpointhq/breakpoint/internal/event"
	"github.com/breakpointhq/breakpoint/internal/logging"
	"github.com/breakpointhq/breakpoint/internal/ratelimit"
	"github.com/breakpointhq/breakpoint/internal/roommgr"
)

// Handler upgrades HTTP connections to WebSocket and drives one Session
// per connection. Grounded on the teacher's Hub.ServeWs: origin check,
// per-message write buffer pool, then hand off to a per-connection pump.
type Handler struct {
	mgr       *roommgr.Manager
	events    *event.Store
	limiter   *ratelimit.RateLimiter
	router    InputRouter
	upgrader  websocket.Upgrader
}

// NewHandler constructs a Handler. allowedOrigins mirrors the teacher's
// ALLOWED_ORIGINS env-driven CORS allowlist; an empty list allows any
// origin (and all non-browser clients, which send no Origin header).
func NewHandler(mgr *roommgr.Manager, events *event.Store, limiter *ratelimit.RateLimiter, router InputRouter, allowedOrigins []string) *Handler {
	return &Handler{
		mgr:     mgr,
		events:  events,
		limiter: limiter,
		router:  router,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return originAllowed(r.Header.Get("Origin"), allowedOrigins)
			},
			WriteBufferPool: &sync.Pool{
				New: func() any { return make([]byte, 4096) },
			},
		},
	}
}

func originAllowed(origin string, allowed []string) bool {
	if origin == "" {
		return true
	}
	if len(allowed) == 0 {
		return true
	}
	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, a := range allowed {
		allowedURL, err := url.Parse(a)
		if err != nil {
			continue
		}
		if originURL.Scheme == allowedURL.Scheme && originURL.Host == allowedURL.Host {
			return true
		}
	}
	return false
}

// ServeWs upgrades the request and runs a Session until the connection
// closes. Registered at GET /ws (§4.F); the room is selected by the
// session's first frame (JoinRoom), not by the URL.
func (h *Handler) ServeWs(c *gin.Context) {
	remoteIP := c.ClientIP()
	if !h.limiter.AcquireIPSlot(remoteIP) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many connections from this address"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.limiter.ReleaseIPSlot(remoteIP)
		logging.Warn(c.Request.Context(), "wsconn: upgrade failed", zap.Error(err))
		return
	}

	session := New(conn, h.mgr, h.events, h.limiter, h.router, remoteIP)
	session.Run(c.Request.Context())
}
