package handlers

import (
	"encoding/json"
	"sync"

	"headset_monitor/internal/logger"
	"headset_monitor/internal/models"
)

const clientSendBuffer = 256

// wsClient is one change-stream subscriber.
type wsClient struct {
	send chan []byte
}

// Hub fans engine events out to every connected WebSocket client. It is passed to the
// engine as a subscriber, so Notify never blocks: slow clients lose messages.
type Hub struct {
	mu      sync.Mutex
	clients map[*wsClient]struct{}
	log     *logger.Logger
}

func NewHub(log *logger.Logger) *Hub {
	return &Hub{clients: make(map[*wsClient]struct{}), log: log}
}

// Notify broadcasts ev in the order the engine published it.
func (h *Hub) Notify(ev models.Event) {
	msg, err := json.Marshal(ev)
	if err != nil {
		if h.log != nil {
			h.log.Errorw("ws_marshal_failed", "type", ev.Type, "err", err)
		}
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			if h.log != nil {
				h.log.Warnw("ws_client_slow_dropped", "type", ev.Type)
			}
		}
	}
}

// attach registers a client whose first message is initial. Callers attach from inside
// WithSystemState so the snapshot and the following broadcasts line up.
func (h *Hub) attach(initial models.Event) (*wsClient, error) {
	msg, err := json.Marshal(initial)
	if err != nil {
		return nil, err
	}
	c := &wsClient{send: make(chan []byte, clientSendBuffer)}
	c.send <- msg

	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	return c, nil
}

func (h *Hub) detach(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// Clients is the number of attached clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
