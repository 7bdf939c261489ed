package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/zsiec/reel/internal/player"
)

const (
	clientBuffer = 64
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10
)

// Hub fans player events out to websocket clients. Publish never blocks:
// a client whose buffer is full misses the event.
type Hub struct {
	upgrader websocket.Upgrader
	initial  func() []player.Event
	log      *slog.Logger

	mu      sync.RWMutex
	clients map[uuid.UUID]*client
}

type client struct {
	id        uuid.UUID
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// close asks the write loop to send a close frame and drop the
// connection, which also ends the read loop.
func (c *client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// NewHub creates a hub. initial, when set, supplies the events replayed to
// each client as it connects.
func NewHub(initial func() []player.Event, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			// The control API is meant for local tools; origin checks belong
			// to a fronting proxy.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		initial: initial,
		log:     log.With("component", "events"),
		clients: make(map[uuid.UUID]*client),
	}
}

// Publish queues ev for every connected client. It has the shape of a
// player.Observer.
func (h *Hub) Publish(ev player.Event) {
	data, err := json.Marshal(eventMessage(ev))
	if err != nil {
		h.log.Error("encoding event", "kind", ev.Kind, "error", err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.log.Debug("client behind, dropping event", "client", c.id, "kind", ev.Kind)
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[uuid.UUID]*client)
	h.mu.Unlock()
	for _, c := range clients {
		c.close()
	}
}

// ServeHTTP upgrades the request and streams events until the client goes
// away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", "error", err)
		return
	}
	c := &client{
		id:   uuid.New(),
		conn: conn,
		send: make(chan []byte, clientBuffer),
		done: make(chan struct{}),
	}
	if h.initial != nil {
		for _, ev := range h.initial() {
			if data, err := json.Marshal(eventMessage(ev)); err == nil {
				c.send <- data
			}
		}
	}

	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	h.log.Info("client connected", "client", c.id, "remote", r.RemoteAddr)

	go h.writeLoop(c)
	h.readLoop(c)

	h.mu.Lock()
	if h.clients[c.id] == c {
		delete(h.clients, c.id)
	}
	h.mu.Unlock()
	c.close()
	h.log.Info("client disconnected", "client", c.id)
}

// readLoop discards client messages; it exists to process control frames
// and notice disconnects.
func (h *Hub) readLoop(c *client) {
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer c.conn.Close()
	for {
		select {
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.log.Debug("websocket write failed", "client", c.id, "error", err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
