package dispatch

import (
	"context"
	"errors"
	"sync"

	"github.com/gorilla/websocket"
)

// WSSession is a single connected driver's socket.
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

// WSRegistry holds live driver sessions keyed by push address (driver
// id). It implements Bus directly so a FanoutBus can try it first.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*WSSession
}

func NewWSRegistry() *WSRegistry { return &WSRegistry{sessions: make(map[string]*WSSession)} }

func (r *WSRegistry) Add(address string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[address] = &WSSession{conn: conn}
}

func (r *WSRegistry) Remove(address string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, address)
}

// ErrNoSession means the address has no live WebSocket connection; the
// caller (typically a FanoutBus) should fall back to another transport.
var ErrNoSession = errors.New("no ws session")

func (r *WSRegistry) Emit(_ context.Context, address, event string, payload any, correlationID string) error {
	r.mu.RLock()
	s, ok := r.sessions[address]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	msg := envelope{Event: event, CorrelationID: correlationID, Payload: payload}
	if err := s.send(msg); err != nil {
		r.Remove(address)
		return err
	}
	return nil
}
