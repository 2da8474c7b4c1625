package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/junothreadborne/ListenRoom/internal/service"
	"go.uber.org/zap"
)

// SessionWSHandler handles the coordination channel at /ws/session. Every
// client gets one long-lived connection with a server-assigned connection id;
// session membership is established by the join_session action, not the URL,
// so a transport-level reconnect is always a fresh join.
type SessionWSHandler struct {
	hub         *service.Hub
	coordinator *service.Coordinator
	logger      *zap.Logger
}

// NewSessionWSHandler creates the WebSocket coordination handler.
func NewSessionWSHandler(hub *service.Hub, coordinator *service.Coordinator, logger *zap.Logger) *SessionWSHandler {
	return &SessionWSHandler{hub: hub, coordinator: coordinator, logger: logger}
}

// ServeWS upgrades the request and runs the coordination loop.
func (h *SessionWSHandler) ServeWS(c *gin.Context) {
	conn, err := h.hub.Upgrader().Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	if n := h.hub.MaxMessageSize(); n > 0 {
		conn.SetReadLimit(n)
	}

	peer := service.NewPeer(uuid.New().String(), conn)
	h.logger.Debug("connection opened", zap.String("connection_id", peer.ConnID))

	go h.writePump(peer)
	h.readPump(peer)
}

// readPump feeds inbound frames to the coordinator. When the read side ends
// (graceful close or abrupt drop) the leave path runs here; it is a no-op for
// connections that never completed a join.
func (h *SessionWSHandler) readPump(p *service.Peer) {
	defer func() {
		h.coordinator.Disconnect(p)
		p.CloseSend()
	}()
	for {
		mt, data, err := p.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Debug("read error", zap.String("connection_id", p.ConnID), zap.Error(err))
			}
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		h.coordinator.HandleMessage(p, data)
	}
}

func (h *SessionWSHandler) writePump(p *service.Peer) {
	defer func() {
		_ = p.Conn.Close()
	}()
	for data := range p.Send {
		if err := p.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}
