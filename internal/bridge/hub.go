// Package bridge pushes speech commands to browser pages connected over a
// websocket. The page owns the actual synthesis (Web Speech API).
package bridge

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/liuscraft/orion-reader/internal/logging"
)

const writeTimeout = 5 * time.Second

// Message types understood by the page script.
const (
	TypeCancel = "cancel"
	TypeSpeak  = "speak"
	TypeScript = "script"
	TypeText   = "text"
	TypeNotice = "notice"
)

// Message is the only wire format of the bridge.
type Message struct {
	Type   string  `json:"type"`
	Text   string  `json:"text,omitempty"`
	Rate   float64 `json:"rate,omitempty"`
	Volume float64 `json:"volume,omitempty"`
	Script string  `json:"script,omitempty"`
	Level  string  `json:"level,omitempty"`
}

var ErrNoClients = errors.New("bridge: no connected clients")

type client struct {
	id      string
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *client) send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*client
}

func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[string]*client),
	}
}

// ServeHTTP upgrades the request and keeps the client registered until the
// page disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warnf("Bridge: upgrade failed: %v", err)
		return
	}

	c := &client{id: uuid.NewString(), conn: conn}
	h.mu.Lock()
	h.clients[c.id] = c
	count := len(h.clients)
	h.mu.Unlock()
	logging.Infof("Bridge: client %s connected (%d total)", c.id, count)

	defer func() {
		h.mu.Lock()
		delete(h.clients, c.id)
		h.mu.Unlock()
		_ = conn.Close()
		logging.Infof("Bridge: client %s disconnected", c.id)
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast delivers msg to every client and reports how many received it.
// ErrNoClients is returned when nobody is listening.
func (h *Hub) Broadcast(msg Message) (int, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return 0, err
	}

	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	if len(targets) == 0 {
		return 0, ErrNoClients
	}

	delivered := 0
	var errs []error
	for _, c := range targets {
		if err := c.send(data); err != nil {
			logging.Warnf("Bridge: send %s to %s failed: %v", msg.Type, c.id, err)
			errs = append(errs, err)
			continue
		}
		delivered++
	}
	if delivered == 0 {
		return 0, errors.Join(errs...)
	}
	return delivered, nil
}
