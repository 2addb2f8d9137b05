package alerts

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// HubConfig configures the websocket alert hub.
type HubConfig struct {
	MaxClients      int  `yaml:"max_clients"`       // default 256
	ClientBuffer    int  `yaml:"client_buffer"`     // buffered alerts per client (default 64)
	DropSlowClients bool `yaml:"drop_slow_clients"` // default true
}

// DefaultHubConfig returns production defaults.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		MaxClients:      256,
		ClientBuffer:    64,
		DropSlowClients: true,
	}
}

type hubClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Hub broadcasts alerts to connected websocket clients. A slow client whose
// buffer fills is dropped rather than allowed to stall the broadcast loop.
type Hub struct {
	config   HubConfig
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*hubClient]bool

	dropped int64
}

// NewHub creates a websocket alert hub.
func NewHub(config HubConfig) *Hub {
	return &Hub{
		config:  config,
		clients: make(map[*hubClient]bool),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the request and registers the client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("alert hub: websocket upgrade failed")
		return
	}

	client := &hubClient{
		id:   uuid.New().String()[:8],
		conn: conn,
		send: make(chan []byte, h.config.ClientBuffer),
	}

	h.mu.Lock()
	if len(h.clients) >= h.config.MaxClients {
		h.mu.Unlock()
		_ = conn.Close()
		log.Warn().Msg("alert hub: client limit reached, rejecting connection")
		return
	}
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()

	log.Debug().Str("client", client.id).Int("clients", count).Msg("alert hub: client connected")

	go h.writeLoop(client)
	go h.readLoop(client)
}

// SendAlert implements Dispatcher by broadcasting the alert as JSON.
func (h *Hub) SendAlert(_ context.Context, alert Alert) {
	payload, err := json.Marshal(alert)
	if err != nil {
		log.Warn().Err(err).Msg("alert hub: marshal failed")
		return
	}

	// Channel close only happens under the write lock, so sending while
	// holding the read lock cannot race a close.
	h.mu.RLock()
	var slow []*hubClient
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	if h.config.DropSlowClients {
		for _, c := range slow {
			h.disconnect(c)
			log.Debug().Str("client", c.id).Msg("alert hub: dropped slow client")
		}
	}
}

func (h *Hub) writeLoop(c *hubClient) {
	for payload := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.disconnect(c)
			return
		}
	}
}

// readLoop drains the connection so pings and close frames are processed.
func (h *Hub) readLoop(c *hubClient) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.disconnect(c)
			return
		}
	}
}

func (h *Hub) disconnect(c *hubClient) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	h.mu.Unlock()

	close(c.send)
	_ = c.conn.Close()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
