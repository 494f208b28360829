// Package statusfeed is an optional, read-only dashboard: a tiny HTTP
// server that upgrades to a websocket and broadcasts orchestrator phase
// transitions and batch device results to any number of connected browser
// tabs. Grounded verbatim-in-shape on the teacher's internal/server/ws.go
// (WSHub/WSClient), generalized from calibration-progress messages to the
// orchestrator's own event vocabulary. Entirely optional per SPEC_FULL.md
// §5 -- absent by default, and a write to it never blocks or fails a flash.
package statusfeed

import (
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// Message is one broadcast event. Type is "phase" (sent by PhaseTransition)
// or "device_result" (sent by DeviceResult).
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// Client wraps one upgraded websocket connection.
type Client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *Client) send(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(msg)
}

// Hub fans broadcast messages out to every connected Client. The zero value
// is not usable; construct with NewHub.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*Client]struct{}
	upgrader websocket.Upgrader
}

// NewHub returns an empty Hub, ready to accept connections via ServeHTTP.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Read-only, same-origin dashboard: no cross-origin caller ever
			// needs to drive this socket, so only allow same-origin upgrades
			// (Origin unset -- e.g. curl, native clients -- is permitted too).
			CheckOrigin: sameOriginOrAbsent,
		},
	}
}

func sameOriginOrAbsent(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return origin == "http://"+r.Host || origin == "https://"+r.Host
}

// ServeHTTP upgrades the connection and keeps it registered until the
// client disconnects. The connection is read-only from the dashboard's
// perspective; incoming frames are drained and discarded.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("statusfeed: upgrade failed: %v", err)
		return
	}
	c := &Client{conn: conn}
	h.add(c)
	defer h.remove(c)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	_ = c.conn.Close()
}

// Broadcast sends msg to every currently-connected client. A client whose
// write fails is left for its read loop to notice and unregister; broadcast
// itself never blocks on a slow client beyond one WriteJSON call.
func (h *Hub) Broadcast(msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if err := c.send(msg); err != nil {
			log.Printf("statusfeed: broadcast to client failed: %v", err)
		}
	}
}

// PhaseTransition is a convenience wrapper for Broadcast(Message{Type: "phase"}).
func (h *Hub) PhaseTransition(name string) {
	h.Broadcast(Message{Type: "phase", Data: name})
}

// DeviceResult is a convenience wrapper for Broadcast(Message{Type: "device_result"}).
func (h *Hub) DeviceResult(v interface{}) {
	h.Broadcast(Message{Type: "device_result", Data: v})
}
