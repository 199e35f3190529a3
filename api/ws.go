package api

import (
	"sync"

	"github.com/gofiber/contrib/websocket"
	"go.uber.org/zap"
)

// wsSubscriber adapts one websocket connection onto the hub's subscriber
// contract. Writes are serialized; gorilla connections do not allow
// concurrent writers.
type wsSubscriber struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *wsSubscriber) Send(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

// handleWebSocket subscribes the connection to broadcasts for its lifetime.
// Client-sent frames are read and discarded; a read error ends the
// subscription.
func (s *Server) handleWebSocket(conn *websocket.Conn) {
	sub := &wsSubscriber{conn: conn}
	s.hub.Connect(sub)
	defer s.hub.Disconnect(sub)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			s.logger.Debug("websocket closed", zap.Error(err))
			return
		}
	}
}
