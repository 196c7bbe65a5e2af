// Package hub is the live run event feed backing GET /events (queue
// operations broadcast no events) — an
// ambient observability sibling to the REST API, grounded on the
// teacher's hub/hub.go websocket broadcaster (spec.md §6 supplemental,
// SPEC_FULL.md).
package hub

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Event is one broadcastable run lifecycle notification.
type Event struct {
	Type    string `json:"type"` // run.started, run.finished, run.failed
	JobID   string `json:"jobId,omitempty"`
	Payload any    `json:"payload"`
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Hub fans out Events to every connected websocket client.
type Hub struct {
	log        *zap.Logger
	clients    map[*client]bool
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	upgrader   websocket.Upgrader
}

func New(log *zap.Logger) *Hub {
	return &Hub{
		log:        log,
		clients:    make(map[*client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		upgrader: websocket.Upgrader{
			// Loopback-only API (spec.md §6); no cross-origin browser
			// clients to validate against.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Run drives the hub's register/unregister/broadcast loop. Blocks until
// the caller's goroutine is torn down with the process.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.clients[c] = true
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					close(c.send)
					delete(h.clients, c)
				}
			}
		}
	}
}

func (h *Hub) Broadcast(evt Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		h.log.Error("hub: marshal event", zap.Error(err))
		return
	}
	h.broadcast <- data
}

// HandleConnect upgrades GET /events to a websocket connection.
func (h *Hub) HandleConnect(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("hub: websocket upgrade failed", zap.Error(err))
		return
	}
	c := &client{id: uuid.NewString(), conn: conn, send: make(chan []byte, 64)}
	h.register <- c
	h.log.Debug("hub: client connected", zap.String("clientId", c.id))

	go c.writePump()
	go c.readPump(h)
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *client) readPump(h *Hub) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
		h.log.Debug("hub: client disconnected", zap.String("clientId", c.id))
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}
