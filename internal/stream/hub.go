// Package stream fans decision events out to dashboard WebSocket
// subscribers. All writes to a connection go through its subscriber's
// writePump goroutine; the hub never touches a connection directly.
package stream

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/sentra/waf/internal/metrics"
)

// The dashboard is served from its own origin, so cross-origin upgrades
// are expected.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub tracks live subscribers and broadcasts decision events to them.
type Hub struct {
	metrics *metrics.Metrics

	mu          sync.RWMutex
	subscribers map[string]*Subscriber
}

// NewHub creates an empty hub.
func NewHub(m *metrics.Metrics) *Hub {
	return &Hub{
		metrics:     m,
		subscribers: make(map[string]*Subscriber),
	}
}

// HandleWebSocket upgrades the request and runs the subscriber until the
// peer goes away.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("WebSocket upgrade failed", "error", err)
		return
	}

	sub := &Subscriber{
		id:   uuid.NewString(),
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
	h.register(sub)

	// Two goroutines with clear ownership: writePump owns all writes
	// (events, pings, close frames), readPump owns all reads.
	go sub.writePump()
	go sub.readPump()
}

func (h *Hub) register(sub *Subscriber) {
	h.mu.Lock()
	h.subscribers[sub.id] = sub
	n := len(h.subscribers)
	h.mu.Unlock()

	h.metrics.StreamSubscriberChange(1)
	slog.Info("Dashboard subscriber connected", "id", sub.id, "total", n)
}

func (h *Hub) unregister(id string) {
	h.mu.Lock()
	_, ok := h.subscribers[id]
	if ok {
		delete(h.subscribers, id)
	}
	n := len(h.subscribers)
	h.mu.Unlock()

	if ok {
		h.metrics.StreamSubscriberChange(-1)
		slog.Info("Dashboard subscriber disconnected", "id", id, "total", n)
	}
}

// SubscriberCount returns the number of live subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Publish broadcasts one event to every subscriber. A subscriber whose
// buffer is full is dropped; one slow dashboard must not stall the rest.
func (h *Hub) Publish(eventType string, data interface{}) {
	payload, err := json.Marshal(map[string]interface{}{
		"type": eventType,
		"data": data,
	})
	if err != nil {
		slog.Warn("Failed to encode stream event", "type", eventType, "error", err)
		return
	}

	h.mu.RLock()
	subs := make([]*Subscriber, 0, len(h.subscribers))
	for _, sub := range h.subscribers {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub.send <- payload:
		default:
			slog.Warn("Subscriber send buffer full, dropping subscriber", "id", sub.id)
			sub.close()
		}
	}
}

// Shutdown closes every subscriber connection.
func (h *Hub) Shutdown() {
	h.mu.RLock()
	subs := make([]*Subscriber, 0, len(h.subscribers))
	for _, sub := range h.subscribers {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	for _, sub := range subs {
		sub.close()
	}
}
