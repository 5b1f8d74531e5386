package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub broadcasts notifications to connected websocket clients. It is
// a push-only surface; client messages are discarded.
type Hub struct {
	mu        sync.Mutex
	clients   map[*websocket.Conn]bool
	broadcast chan []byte
	done      chan struct{}
}

// NewHub creates a hub with the given broadcast backlog.
func NewHub(backlog int) *Hub {
	if backlog <= 0 {
		backlog = 64
	}
	return &Hub{
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan []byte, backlog),
		done:      make(chan struct{}),
	}
}

// Run delivers broadcast messages until Close. Dead clients are
// dropped on write failure.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			return
		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
					client.Close()
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Close stops the hub and disconnects all clients.
func (h *Hub) Close() {
	close(h.done)
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		client.Close()
		delete(h.clients, client)
	}
}

// ServeWS upgrades an HTTP request and registers the client.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	h.mu.Lock()
	h.clients[conn] = true
	h.mu.Unlock()
}

// Name and Send make the hub usable as a notification Channel.
func (h *Hub) Name() string { return "socket" }

func (h *Hub) Send(ctx context.Context, ev Event) error {
	msg, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- msg:
		return nil
	default:
		// Backlog full; drop rather than block the notifier.
		return nil
	}
}
