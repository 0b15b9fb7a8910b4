package ws

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/addonhost/backend/internal/domain/navigation"
	"github.com/GriffinCanCode/addonhost/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/addonhost/backend/internal/shared/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	eventBuffer    = 64
	maxInboundSize = 4096
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS middleware governs browser origins
	},
}

// Handler streams navigation changes to WebSocket clients
type Handler struct {
	nav     *navigation.Host
	metrics *monitoring.Metrics
	logger  *zap.Logger
}

// NewHandler creates a new WebSocket handler. metrics may be nil.
func NewHandler(nav *navigation.Host, metrics *monitoring.Metrics, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{nav: nav, metrics: metrics, logger: logger.Named("ws")}
}

type message struct {
	Type      string                 `json:"type"`
	Event     *types.NavigationEvent `json:"event,omitempty"`
	Sidebar   []types.SidebarItem    `json:"sidebar,omitempty"`
	Routes    []types.Route          `json:"routes,omitempty"`
	Timestamp int64                  `json:"timestamp"`
}

// HandleConnection upgrades the request and pushes a snapshot followed by
// every navigation event until the client disconnects
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	if h.metrics != nil {
		h.metrics.IncWSConnections()
		defer h.metrics.DecWSConnections()
	}

	// subscribe before the snapshot so no change falls between them
	events, cancel := h.nav.Subscribe(eventBuffer)
	defer cancel()

	if err := h.send(conn, message{
		Type:    "snapshot",
		Sidebar: h.nav.Sidebar(),
		Routes:  h.nav.Routes(),
	}); err != nil {
		return
	}

	done := make(chan struct{})
	pings := make(chan struct{}, 1)
	go h.readLoop(conn, done, pings)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-c.Request.Context().Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			ev := event
			if err := h.send(conn, message{Type: "navigation", Event: &ev}); err != nil {
				h.logger.Debug("WebSocket write failed", zap.Error(err))
				return
			}
		case <-pings:
			if err := h.send(conn, message{Type: "pong"}); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop drains client frames so control messages are processed. The
// stream is push-only apart from ping, which is answered by the write loop.
func (h *Handler) readLoop(conn *websocket.Conn, done, pings chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(maxInboundSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		var msg struct {
			Type string `json:"type"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if h.metrics != nil {
			h.metrics.RecordWSMessage("inbound", inboundType(msg.Type))
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		if msg.Type == "ping" {
			select {
			case pings <- struct{}{}:
			default:
			}
		}
	}
}

func (h *Handler) send(conn *websocket.Conn, msg message) error {
	msg.Timestamp = time.Now().Unix()
	if h.metrics != nil {
		h.metrics.RecordWSMessage("outbound", msg.Type)
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}

// inboundType folds client-chosen message types into a fixed label set
func inboundType(t string) string {
	if t == "ping" {
		return "ping"
	}
	return "other"
}
