// Package events fans verification outcomes out to websocket subscribers.
package events

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Event types published by the verification flows.
const (
	TypePhotoVerification   = "photo_verification"
	TypeSatelliteComparison = "satellite_comparison"
)

const (
	writeWait     = 10 * time.Second
	pongWait      = 60 * time.Second
	pingPeriod    = pongWait * 9 / 10
	broadcastSize = 64
	sendBuffer    = 16
)

// Event is one outcome as seen by live-feed subscribers.
type Event struct {
	Type         string    `json:"type"`
	RequestID    string    `json:"request_id"`
	UserID       string    `json:"user_id"`
	Verified     bool      `json:"verified"`
	TokensEarned int       `json:"tokens_earned"`
	ActionType   string    `json:"action_type,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Publisher accepts events for broadcast.
type Publisher interface {
	Publish(evt Event)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// subscriber is one websocket connection. Only its write pump touches conn;
// only the hub closes send.
type subscriber struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub tracks connected subscribers and broadcasts to all of them. A subscriber
// whose send buffer is full is disconnected instead of stalling the others.
type Hub struct {
	clients    map[*subscriber]bool
	broadcast  chan []byte
	register   chan *subscriber
	unregister chan *subscriber
	done       chan struct{}
	mutex      sync.RWMutex
	logger     *zap.Logger
}

// NewHub returns an idle hub. Call Run to start delivering events.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[*subscriber]bool),
		broadcast:  make(chan []byte, broadcastSize),
		register:   make(chan *subscriber),
		unregister: make(chan *subscriber),
		done:       make(chan struct{}),
		logger:     logger.Named("events"),
	}
}

// Run serves the hub until ctx is cancelled, then disconnects everyone.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mutex.Lock()
			for client := range h.clients {
				h.drop(client)
			}
			h.mutex.Unlock()
			return

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mutex.Unlock()
			h.logger.Debug("subscriber connected", zap.Int("subscribers", count))

		case client := <-h.unregister:
			h.mutex.Lock()
			if h.clients[client] {
				h.drop(client)
			}
			count := len(h.clients)
			h.mutex.Unlock()
			h.logger.Debug("subscriber disconnected", zap.Int("subscribers", count))

		case message := <-h.broadcast:
			h.mutex.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					h.logger.Warn("subscriber too slow, disconnecting")
					h.drop(client)
				}
			}
			h.mutex.Unlock()
		}
	}
}

// drop must be called with h.mutex held.
func (h *Hub) drop(client *subscriber) {
	delete(h.clients, client)
	close(client.send)
}

// Publish queues evt for broadcast. Events are dropped when the queue is full.
func (h *Hub) Publish(evt Event) {
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = time.Now().UTC()
	}
	message, err := json.Marshal(evt)
	if err != nil {
		h.logger.Warn("failed to encode event", zap.Error(err))
		return
	}
	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("event queue full, dropping event", zap.String("request_id", evt.RequestID))
	}
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades the request and keeps the subscriber registered until it
// disconnects. Subscribers only listen; anything they send is discarded.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	client := &subscriber{conn: conn, send: make(chan []byte, sendBuffer)}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}
	go h.writePump(client)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// writePump delivers queued messages until the hub closes send.
func (h *Hub) writePump(client *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				h.logger.Warn("write to subscriber failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
