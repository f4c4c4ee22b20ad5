package stream

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	pongWait   = 60 * time.Second // Time allowed to read the next pong
	pingPeriod = 30 * time.Second // Send pings at this interval (must be < pongWait)
	writeWait  = 10 * time.Second // Time allowed to write a message
	maxMsgSize = 512 * 1024       // 512KB max message size per frame
	sendBuffer = 256              // Per-subscriber outbound channel buffer
)

// Subscriber is one dashboard WebSocket connection.
type Subscriber struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte   // Buffered outbound messages
	done chan struct{} // Signals shutdown to writePump
	once sync.Once     // Ensures close only happens once
}

// close tears the subscriber down exactly once.
func (s *Subscriber) close() {
	s.once.Do(func() {
		close(s.done)
		s.hub.unregister(s.id)
		s.conn.Close()
	})
}

// writePump serializes all writes to the connection.
func (s *Subscriber) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.close()
	}()

	for {
		select {
		case message := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				slog.Warn("Write failed for subscriber", "id", s.id, "error", err)
				return
			}

			// Drain queued messages while we hold the write slot.
			n := len(s.send)
			for i := 0; i < n; i++ {
				msg := <-s.send
				if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					slog.Warn("Batch write failed for subscriber", "id", s.id, "error", err)
					return
				}
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-s.done:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			s.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// readPump reads frames from the connection. Dashboards send application
// pings as text frames; each one is answered with a pong event.
func (s *Subscriber) readPump() {
	defer s.close()

	s.conn.SetReadLimit(maxMsgSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("WebSocket error", "id", s.id, "error", err)
			}
			return
		}

		pong, _ := json.Marshal(map[string]string{"type": "pong"})
		select {
		case s.send <- pong:
		default:
		}
	}
}
