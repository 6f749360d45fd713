// Package status exposes a view of a running motion core over HTTP and
// WebSocket: current state, positions, queue depth, and a live feed of
// state-change/position/GPIO events, open to any authenticated role.
// It also exposes a small realtime control surface (feedhold, cycle
// start, queued stop, flush) gated on the "operator" JWT role; PlanLine
// and the rest of motion.Core's queue-submission API are never
// reachable from here regardless of role.
package status

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

// MessageType tags the kind of event carried by a Message.
type MessageType string

const (
	MessageTypeStateChange    MessageType = "state_change"
	MessageTypePositionUpdate MessageType = "position_update"
	MessageTypeQueueDepth     MessageType = "queue_depth"
	MessageTypeDiagnostic     MessageType = "diagnostic"
	MessageTypeGPIOState      MessageType = "gpio_state"
)

// Message is one event broadcast to every connected status subscriber.
type Message struct {
	Type      MessageType            `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Client is one connected WebSocket subscriber.
type Client struct {
	ID   string
	Conn *websocket.Conn
	Send chan Message
	Hub  *Hub
}

// Hub fans broadcast Messages out to every connected Client. Register,
// unregister and broadcast arrive through channels and are handled by
// Run; the client map is still guarded by mu, which GetClientCount also
// takes for its read.
type Hub struct {
	clients    map[string]*Client
	broadcast  chan Message
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
}

// NewHub returns a Hub; callers must start Run in its own goroutine.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		broadcast:  make(chan Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run is the hub's single-goroutine event loop. Blocks until the
// process exits; callers launch it with `go hub.Run()`.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case message := <-h.broadcast:
			h.broadcastMessage(message)
		}
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.ID]; ok {
		delete(h.clients, client.ID)
		close(client.Send)
	}
}

func (h *Hub) broadcastMessage(message Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.clients {
		select {
		case client.Send <- message:
		default:
			// Client's send buffer is full; drop rather than block the
			// hub loop for one slow subscriber.
		}
	}
}

// Broadcast queues a Message for delivery to every connected client.
func (h *Hub) Broadcast(messageType MessageType, data map[string]interface{}) {
	h.broadcast <- Message{
		Type:      messageType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// GetClientCount returns the number of currently connected clients.
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWebSocket registers c as a new client and blocks in its read
// pump until the connection closes.
func (h *Hub) HandleWebSocket(c *websocket.Conn) {
	client := &Client{
		ID:   uuid.NewString(),
		Conn: c,
		Send: make(chan Message, 256),
		Hub:  h,
	}

	h.register <- client

	go client.writePump()
	client.readPump()
}

// readPump discards inbound frames; this surface is read-only, so the
// only thing a client's frames can do is keep the connection alive.
func (c *Client) readPump() {
	defer func() {
		c.Hub.unregister <- c
		c.Conn.Close()
	}()

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			data, err := json.Marshal(message)
			if err != nil {
				continue
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
