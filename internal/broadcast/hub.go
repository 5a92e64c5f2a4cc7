// Package broadcast serves the live dashboard: a websocket hub fanning
// delivered events out to browser clients, a recent-event replay buffer,
// and the HTTP surface around them.
package broadcast

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"lookout/pkg/logging"
)

// Frame is the wire envelope sent to websocket clients.
type Frame struct {
	Type      string    `json:"type"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Frame types.
const (
	FrameState  = "state"
	FrameEvent  = "event"
	FrameStatus = "status"
)

// HubMetrics are the optional Prometheus instruments for the hub. Nil
// members are skipped.
type HubMetrics struct {
	Connections *prometheus.GaugeVec
	Messages    *prometheus.CounterVec // labelled by type, direction
}

// Hub maintains the set of active clients and broadcasts frames to them.
// Every client receives every frame; there is no per-client channel
// selection.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	logger     logging.Logger
	metrics    HubMetrics
	mutex      sync.RWMutex

	// Snapshot supplies the state frame payload sent to every client on
	// connect. Set before Run.
	Snapshot func() any
}

// Client represents one websocket connection.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	logger logging.Logger
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// NewHub creates a websocket hub.
func NewHub(logger logging.Logger, metrics HubMetrics) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
		metrics:    metrics,
	}
}

// Run drives the hub's main loop until the context is cancelled, then
// closes every client.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mutex.Unlock()
			h.setConnections(count)
			h.logger.WithField("client_count", count).Info("Dashboard client connected")
			h.sendStateFrame(client)

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mutex.Unlock()
			h.setConnections(count)
			h.logger.WithField("client_count", count).Info("Dashboard client disconnected")

		case message := <-h.broadcast:
			h.broadcastMessage(message)
		}
	}
}

// Broadcast marshals a frame and fans it out. A full hub queue drops the
// frame with a warning rather than blocking the caller.
func (h *Hub) Broadcast(frameType string, data any) {
	frame := Frame{
		Type:      frameType,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
	raw, err := json.Marshal(frame)
	if err != nil {
		h.logger.WithError(err).Error("Failed to marshal broadcast frame")
		return
	}

	select {
	case h.broadcast <- raw:
		h.markMessage(frameType, "out")
	default:
		h.logger.Warn("Broadcast channel full, dropping frame")
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades an HTTP request and registers the client.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upgrade websocket connection")
		return
	}

	client := &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, 256),
		logger: h.logger,
	}
	h.register <- client

	go client.writePump()
	go client.readPump()
}

func (h *Hub) broadcastMessage(message []byte) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	for client := range h.clients {
		select {
		case client.send <- message:
		default:
			close(client.send)
			delete(h.clients, client)
		}
	}
	h.setConnections(len(h.clients))
}

func (h *Hub) sendStateFrame(client *Client) {
	if h.Snapshot == nil {
		return
	}
	frame := Frame{
		Type:      FrameState,
		Data:      h.Snapshot(),
		Timestamp: time.Now().UTC(),
	}
	raw, err := json.Marshal(frame)
	if err != nil {
		h.logger.WithError(err).Error("Failed to marshal state frame")
		return
	}
	select {
	case client.send <- raw:
		h.markMessage(FrameState, "out")
	default:
	}
}

func (h *Hub) closeAll() {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
	h.setConnections(0)
}

func (h *Hub) setConnections(n int) {
	if h.metrics.Connections != nil {
		h.metrics.Connections.WithLabelValues().Set(float64(n))
	}
}

func (h *Hub) markMessage(frameType, direction string) {
	if h.metrics.Messages != nil {
		h.metrics.Messages.WithLabelValues(frameType, direction).Inc()
	}
}

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512
)

// readPump consumes the client side of the connection. Clients do not
// drive any protocol; inbound messages are read for keepalive handling
// and discarded.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.WithError(err).Error("Websocket connection error")
			}
			break
		}
	}
}

// writePump pumps frames from the hub to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Flush any frames queued behind this one.
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
