package devserver

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"sudooom.im.client/internal/protocol"
)

// wsClient 一条已接入的推送连接
type wsClient struct {
	userID string
	conn   *websocket.Conn
	send   chan []byte
	rooms  map[string]bool
}

// hub 按用户和房间分发下行事件的小型集线器
type hub struct {
	mu      sync.RWMutex
	clients map[*wsClient]bool
	logger  *slog.Logger
}

func newHub(logger *slog.Logger) *hub {
	return &hub{
		clients: make(map[*wsClient]bool),
		logger:  logger.With("component", "DevHub"),
	}
}

func (h *hub) register(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
}

func (h *hub) unregister(c *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// count 当前接入的连接数
func (h *hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *hub) joinRoom(c *wsClient, conversationID string) {
	h.mu.Lock()
	c.rooms[conversationID] = true
	h.mu.Unlock()
}

func (h *hub) leaveRoom(c *wsClient, conversationID string) {
	h.mu.Lock()
	delete(c.rooms, conversationID)
	h.mu.Unlock()
}

// emitToUser 向某用户的所有连接推送事件
func (h *hub) emitToUser(userID, event string, payload any) {
	data, err := protocol.Encode(event, payload)
	if err != nil {
		h.logger.Error("Failed to encode event", "event", event, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		if c.userID == userID {
			h.deliver(c, data)
		}
	}
}

// emitToRoom 向房间内所有连接推送事件
func (h *hub) emitToRoom(conversationID, event string, payload any) {
	data, err := protocol.Encode(event, payload)
	if err != nil {
		h.logger.Error("Failed to encode event", "event", event, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		if c.rooms[conversationID] {
			h.deliver(c, data)
		}
	}
}

func (h *hub) deliver(c *wsClient, data []byte) {
	select {
	case c.send <- data:
	default:
		h.logger.Warn("Dropped frame, client send buffer full", "user_id", c.userID)
	}
}
