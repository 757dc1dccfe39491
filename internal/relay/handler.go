package relay

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/breakpointhq/breakpoint/internal/logging"
	"github.com/breakpointhq/breakpoint/internal/wire"
)

// Handler upgrades HTTP connections to WebSocket for relay-mode deployments
// (§4.J): the process owns no game state, only routes frames by room code.
// Grounded on wsconn.Handler's upgrade shape, stripped of the room manager,
// event store, and game input routing a full game server needs.
type Handler struct {
	mgr      *Manager
	upgrader websocket.Upgrader
}

// NewHandler constructs a relay Handler.
func NewHandler(mgr *Manager) *Handler {
	return &Handler{
		mgr: mgr,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
			WriteBufferPool: &sync.Pool{
				New: func() any { return make([]byte, 4096) },
			},
		},
	}
}

// sinkConn adapts a *websocket.Conn to the Sink interface with a
// writer-goroutine-free try-send: relay frames are forwarded verbatim and
// small, so a direct write under a per-connection mutex is sufficient
// (unlike wsconn.Session, which needs priority queues for game traffic).
type sinkConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *sinkConn) Send(frame []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return s.conn.WriteMessage(websocket.BinaryMessage, frame) == nil
}

// ServeWs upgrades the request and discards non-control frames until the
// client's JoinRoom names a room (the join determines routing scope), after
// which every subsequent non-control frame is routed by Manager.Route.
func (h *Handler) ServeWs(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Warn(c.Request.Context(), "relay: upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx := c.Request.Context()
	sink := &sinkConn{conn: conn}
	clientID := ClientID(uuid.New().String())

	var joinedRoom string
	defer func() {
		if joinedRoom != "" {
			h.mgr.Leave(joinedRoom, clientID)
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		if len(data) == 0 {
			continue
		}
		tag := wire.Tag(data[0])

		switch tag {
		case wire.TagJoinRoom:
			var msg wire.JoinRoom
			if err := wire.DecodeFrame(data, wire.TagJoinRoom, &msg); err != nil {
				continue
			}
			if joinedRoom != "" {
				h.mgr.Leave(joinedRoom, clientID)
			}
			if err := h.mgr.Join(msg.RoomCode, clientID, sink); err != nil {
				logging.Warn(ctx, "relay: join rejected", zap.String("room", msg.RoomCode), zap.Error(err))
				continue
			}
			joinedRoom = msg.RoomCode
		case wire.TagLeaveRoom:
			if joinedRoom != "" {
				h.mgr.Leave(joinedRoom, clientID)
				joinedRoom = ""
			}
		default:
			if joinedRoom == "" {
				continue
			}
			h.mgr.Route(ctx, joinedRoom, clientID, data)
		}
	}
}
