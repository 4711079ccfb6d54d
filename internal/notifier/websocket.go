package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/smilemakc/workflow-engine/internal/logger"
)

// WebSocketSink broadcasts notification-sink events to connected
// WebSocket clients through a Hub.
type WebSocketSink struct {
	hub *Hub
}

// NewWebSocketSink builds a Sink backed by hub.
func NewWebSocketSink(hub *Hub) *WebSocketSink {
	return &WebSocketSink{hub: hub}
}

func (s *WebSocketSink) Name() string { return "websocket" }

// message is the wire shape delivered to clients.
type message struct {
	Type        string    `json:"type"`
	ExecutionID string    `json:"executionId"`
	NodeID      string    `json:"nodeId"`
	Status      string    `json:"status"`
	PriorStatus string    `json:"priorStatus,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

func (s *WebSocketSink) Notify(ctx context.Context, evt Event) error {
	executionID := evt.Interaction.ExecutionID
	status := string(evt.Interaction.Status)
	switch evt.Type {
	case EventExecutionStarted, EventExecutionCompleted, EventExecutionFailed:
		executionID = evt.ExecutionID
		status = string(evt.ExecutionStatus)
	}

	msg := message{
		Type:        string(evt.Type),
		ExecutionID: executionID,
		NodeID:      evt.Interaction.NodeID,
		Status:      status,
		PriorStatus: string(evt.PriorStatus),
		Timestamp:   time.Now(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	s.hub.BroadcastToExecution(executionID, data)
	return nil
}

// Hub manages WebSocket connections and broadcasts notification messages
// to the subset of clients subscribed to a given execution.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan hubMessage
	register   chan *Client
	unregister chan *Client
	log        *logger.Logger
	mu         sync.RWMutex
}

type hubMessage struct {
	executionID string
	data        []byte
}

// NewHub builds a Hub and starts its dispatch loop in the background.
func NewHub(log *logger.Logger) *Hub {
	h := &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan hubMessage, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		log:        log,
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
		case m := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if c.executionID != "" && c.executionID != m.executionID {
					continue
				}
				select {
				case c.send <- m.data:
				default:
					if h.log != nil {
						h.log.Warn("websocket client send buffer full, dropping message", "client", c.id)
					}
				}
			}
			h.mu.RUnlock()
		}
	}
}

// BroadcastToExecution queues data for delivery to clients subscribed to
// executionID and to clients subscribed to no execution. With an empty
// executionID, only clients subscribed to no execution receive it.
func (h *Hub) BroadcastToExecution(executionID string, data []byte) {
	h.broadcast <- hubMessage{executionID: executionID, data: data}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Client is a single WebSocket connection registered with a Hub.
type Client struct {
	id          string
	conn        *websocket.Conn
	send        chan []byte
	hub         *Hub
	executionID string
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeHTTP upgrades the request to a WebSocket connection and registers
// the resulting client with hub. executionId is an optional query
// parameter scoping the client to one execution's events.
func ServeHTTP(hub *Hub, log *logger.Logger, w http.ResponseWriter, r *http.Request) {
	executionID := r.URL.Query().Get("executionId")
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		if log != nil {
			log.Error("websocket upgrade failed", "error", err)
		}
		return
	}

	client := &Client{
		id:          uuid.New().String(),
		conn:        conn,
		send:        make(chan []byte, 256),
		hub:         hub,
		executionID: executionID,
	}
	hub.register <- client

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
