package service

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/junothreadborne/ListenRoom/internal/model"
	"go.uber.org/zap"
)

// Peer represents one WebSocket connection. A peer exists from upgrade to
// disconnect; it belongs to a session group only between a successful join
// and its leave/disconnect.
type Peer struct {
	ConnID string
	Conn   *websocket.Conn
	Send   chan []byte

	closeOnce sync.Once
}

// NewPeer creates a peer for an upgraded connection. Conn may be nil in tests;
// delivery is observed through Send.
func NewPeer(connID string, conn *websocket.Conn) *Peer {
	return &Peer{ConnID: connID, Conn: conn, Send: make(chan []byte, 256)}
}

// CloseSend closes the outbound channel exactly once; the write pump exits
// and closes the underlying connection.
func (p *Peer) CloseSend() {
	p.closeOnce.Do(func() { close(p.Send) })
}

// Hub manages per-session groups of peers and fans out events. It knows
// nothing about authority or playback; it only delivers.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]map[string]*Peer // session id -> conn id -> peer

	upgrader   websocket.Upgrader
	maxMsgSize int64
	log        *zap.Logger
}

// NewHub creates a hub.
func NewHub(readBuf, writeBuf int, maxMessageSize int64, log *zap.Logger) *Hub {
	return &Hub{
		sessions:   make(map[string]map[string]*Peer),
		maxMsgSize: maxMessageSize,
		log:        log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  readBuf,
			WriteBufferSize: writeBuf,
			// Allow all origins for dev; in prod set CheckOrigin.
		},
	}
}

// Upgrader returns the WebSocket upgrader for HTTP handlers.
func (h *Hub) Upgrader() *websocket.Upgrader { return &h.upgrader }

// MaxMessageSize is the per-connection read limit.
func (h *Hub) MaxMessageSize() int64 { return h.maxMsgSize }

// Attach adds a joined peer to its session group.
func (h *Hub) Attach(sessionID string, p *Peer) {
	h.mu.Lock()
	if h.sessions[sessionID] == nil {
		h.sessions[sessionID] = make(map[string]*Peer)
	}
	h.sessions[sessionID][p.ConnID] = p
	h.mu.Unlock()

	h.log.Info("peer attached",
		zap.String("session_id", sessionID),
		zap.String("connection_id", p.ConnID))
}

// Detach removes a peer from its session group without closing it. Detaching
// an unknown peer is a no-op.
func (h *Hub) Detach(sessionID, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if m, ok := h.sessions[sessionID]; ok {
		delete(m, connID)
		if len(m) == 0 {
			delete(h.sessions, sessionID)
		}
	}
}

// Broadcast delivers an event to every peer in the session except connID
// (pass "" to reach the whole group). Slow consumers are dropped, not waited
// on: the session must never stall behind one connection.
func (h *Hub) Broadcast(sessionID, exceptConnID string, ev model.Event) {
	raw, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("marshal event", zap.String("event", ev.Event), zap.Error(err))
		return
	}
	h.mu.RLock()
	peers := make([]*Peer, 0, len(h.sessions[sessionID]))
	for id, p := range h.sessions[sessionID] {
		if id != exceptConnID {
			peers = append(peers, p)
		}
	}
	h.mu.RUnlock()

	for _, p := range peers {
		h.deliver(p, raw, ev.Event)
	}
}

// SendTo delivers an event to one specific member of a session. Returns false
// if that connection is not in the group.
func (h *Hub) SendTo(sessionID, connID string, ev model.Event) bool {
	h.mu.RLock()
	p, ok := h.sessions[sessionID][connID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	h.SendToPeer(p, ev)
	return true
}

// SendToPeer delivers an event directly, group membership or not. Used for
// caller-only replies and error events before a join completes.
func (h *Hub) SendToPeer(p *Peer, ev model.Event) {
	raw, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("marshal event", zap.String("event", ev.Event), zap.Error(err))
		return
	}
	h.deliver(p, raw, ev.Event)
}

// CloseSession drops the whole group and closes every member's outbound
// channel. Any terminal event must be broadcast before calling this.
func (h *Hub) CloseSession(sessionID string) {
	h.mu.Lock()
	m, ok := h.sessions[sessionID]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.sessions, sessionID)
	h.mu.Unlock()

	for _, p := range m {
		p.CloseSend()
	}
	h.log.Info("session group closed", zap.String("session_id", sessionID))
}

// GroupSize returns the number of attached peers in a session.
func (h *Hub) GroupSize(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}

func (h *Hub) deliver(p *Peer, raw []byte, event string) {
	defer func() {
		// Send may race a concurrent CloseSend on disconnect; a dropped
		// delivery to a closing peer is equivalent to the disconnect
		// having happened first.
		if recover() != nil {
			h.log.Debug("delivery to closed peer", zap.String("connection_id", p.ConnID))
		}
	}()
	select {
	case p.Send <- raw:
	default:
		h.log.Warn("peer send buffer full, dropping event",
			zap.String("connection_id", p.ConnID),
			zap.String("event", event))
	}
}
