package game

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"

	"crashx/internal/logger"
	"crashx/internal/metrics"
)

type Client struct {
	conn   *websocket.Conn
	userID string
	mu     sync.Mutex
}

// Hub fans round and bet events out to every connected websocket client
// so all observers derive the same multiplier curve from the same
// started_at. Broadcast never blocks the game loop: events are dropped
// when the channel is full.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Event
	register   chan *Client
	unregister chan *Client
	metrics    *metrics.Metrics
	mu         sync.RWMutex
}

func NewHub(m *metrics.Metrics) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Event, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		metrics:    m,
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			if h.metrics != nil {
				h.metrics.ConnectedClients.Set(float64(n))
			}
			logger.Log.Infow("client connected", "user_id", client.userID, "total", n)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.conn.Close()
			}
			n := len(h.clients)
			h.mu.Unlock()
			if h.metrics != nil {
				h.metrics.ConnectedClients.Set(float64(n))
			}
			logger.Log.Infow("client disconnected", "user_id", client.userID, "total", n)

		case event := <-h.broadcast:
			payload, err := json.Marshal(event)
			if err != nil {
				logger.Log.Errorw("event marshal failed", "type", event.Type, "error", err)
				continue
			}
			h.mu.RLock()
			for client := range h.clients {
				go client.send(payload)
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) Broadcast(event Event) {
	select {
	case h.broadcast <- event:
	default:
		logger.Log.Warnw("broadcast channel full, dropping event", "type", event.Type)
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (c *Client) send(payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		logger.Log.Warnw("websocket write failed", "user_id", c.userID, "error", err)
	}
}

// Send marshals and writes a single event to this client only.
func (c *Client) Send(event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		logger.Log.Errorw("event marshal failed", "type", event.Type, "error", err)
		return
	}
	c.send(payload)
}

func (h *Hub) RegisterClient(conn *websocket.Conn, userID string) *Client {
	client := &Client{conn: conn, userID: userID}
	h.register <- client
	return client
}

func (h *Hub) UnregisterClient(conn *websocket.Conn) {
	h.mu.RLock()
	for client := range h.clients {
		if client.conn == conn {
			h.mu.RUnlock()
			h.unregister <- client
			return
		}
	}
	h.mu.RUnlock()
}
