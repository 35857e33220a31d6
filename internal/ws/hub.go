// Package ws provides the WebSocket hub for streaming live updates to the dashboard.
package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WSMessage is the envelope for all WebSocket messages. UserID scopes the
// message to one account; admins receive every message.
type WSMessage struct {
	Type      string      `json:"type"`
	UserID    int         `json:"-"`
	ClientID  int         `json:"client_id,omitempty"`
	Message   string      `json:"message,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Message type constants.
const (
	TypeSMSSent         = "sms.sent"
	TypeSMSFailed       = "sms.failed"
	TypeReviewOpened    = "review.opened"
	TypeReviewCompleted = "review.completed"
	TypeNotification    = "notification.created"
	TypeQuotaWarning    = "quota.warning"
	TypeRateUpdated     = "rate.updated"
	TypeRateLimit       = "rate_limit"
	TypeSystemStatus    = "system_status"
)

type client struct {
	conn   *websocket.Conn
	send   chan []byte
	userID int
	admin  bool
}

type envelope struct {
	userID int
	body   []byte
}

// Hub manages all connected WebSocket clients.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*client]struct{}
	broadcast  chan envelope
	register   chan *client
	unregister chan *client
	done       chan struct{}
	upgrader   websocket.Upgrader
}

// NewHub creates a new Hub. An empty allowedOrigins accepts any origin.
func NewHub(allowedOrigins []string) *Hub {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &Hub{
		clients:    make(map[*client]struct{}),
		broadcast:  make(chan envelope, 256),
		register:   make(chan *client, 8),
		unregister: make(chan *client, 8),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(allowed) == 0 || origin == "" || allowed[origin]
			},
		},
	}
}

// Run starts the hub event loop. Must be run in a goroutine.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
		case env := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if !c.admin && c.userID != env.userID {
					continue
				}
				select {
				case c.send <- env.body:
				default:
					// Drop slow clients.
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Broadcast sends a WSMessage to the owning account's clients and admins.
func (h *Hub) Broadcast(msg WSMessage) {
	msg.Timestamp = time.Now()
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- envelope{userID: msg.UserID, body: b}:
	default:
	}
}

// ServeWS handles the WebSocket upgrade for an authenticated account and
// starts pump goroutines.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID int, admin bool) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws.ServeWS: upgrade: %v", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, 64), userID: userID, admin: admin}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}
	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) readPump(c *client) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// ClientCount returns the number of connected WebSocket clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
