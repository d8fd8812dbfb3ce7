package ws

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"

	"messaging-service/internal/models"
)

// Session is one authenticated websocket connection. Writes are serialized
// with a mutex because fan-outs run from other connections' goroutines.
type Session struct {
	conn *websocket.Conn
	info ConnInfo

	writeMu sync.Mutex
}

// NewSession wraps an upgraded connection.
func NewSession(conn *websocket.Conn, info ConnInfo) *Session {
	return &Session{conn: conn, info: info}
}

// Info returns the connection metadata captured at handshake time.
func (s *Session) Info() ConnInfo {
	return s.info
}

// UserID returns the authenticated user bound to the session.
func (s *Session) UserID() int {
	return s.info.UserID
}

// Send marshals and writes one event to the client.
func (s *Session) Send(event models.ChatEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.conn == nil {
		return websocket.ErrCloseSent
	}
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

// Close closes the underlying connection.
func (s *Session) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}
