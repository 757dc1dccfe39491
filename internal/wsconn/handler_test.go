package wsconn

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breakpointhq/breakpoint/internal/config"
	"github.com/breakpointhq/breakpoint/internal/event"
	"github.com/breakpointhq/breakpoint/internal/ratelimit"
	"github.com/breakpointhq/breakpoint/internal/roommgr"
)

func newTestHandler(t *testing.T, ipLimit int) *Handler {
	t.Helper()
	cfg := &config.Config{}
	cfg.Limits.EventsPerMinutePerSource = 1000
	cfg.Limits.InputsPerSecondPerSession = 1000
	cfg.Limits.IPConnectionLimit = ipLimit

	limiter, err := ratelimit.NewRateLimiter(cfg, nil)
	require.NoError(t, err)

	mgr := roommgr.New(0, 0, 0, 0)
	store := event.NewStore(16)
	return NewHandler(mgr, store, limiter, nil, []string{"http://allowed.example"})
}

func newWsServer(t *testing.T, h *Handler) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ws", h.ServeWs)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestServeWs_DisallowedOriginRejected(t *testing.T) {
	h := newTestHandler(t, 32)
	srv := newWsServer(t, h)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	headers := http.Header{"Origin": {"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, headers)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestServeWs_AllowedOriginUpgrades(t *testing.T) {
	h := newTestHandler(t, 32)
	srv := newWsServer(t, h)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	headers := http.Header{"Origin": {"http://allowed.example"}}
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, headers)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
}

func TestServeWs_IPConnectionLimitRejects(t *testing.T) {
	h := newTestHandler(t, 1)
	srv := newWsServer(t, h)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	first, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer first.Close()

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}
