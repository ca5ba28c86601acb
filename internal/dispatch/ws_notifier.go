package dispatch

import (
	"errors"
	"sync"

	"github.com/gorilla/websocket"
)

var ErrNoSession = errors.New("no websocket session for driver")

// WSSession represents a connected driver app session.
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) send(payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(payload)
}

// WSRegistry holds live driver sessions and implements Notifier. Drivers
// without a session still get offers through the notification bus.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*WSSession
}

func NewWSRegistry() *WSRegistry {
	return &WSRegistry{sessions: make(map[string]*WSSession)}
}

func (r *WSRegistry) Add(driverID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[driverID] = &WSSession{conn: conn}
}

func (r *WSRegistry) Notify(driverID string, payload any) error {
	r.mu.RLock()
	s, ok := r.sessions[driverID]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	if err := s.send(payload); err != nil {
		// Dead connection. Evict it so the driver falls back to the bus
		// until the app reconnects.
		r.mu.Lock()
		if r.sessions[driverID] == s {
			delete(r.sessions, driverID)
		}
		r.mu.Unlock()
		s.conn.Close()
		return err
	}
	return nil
}
