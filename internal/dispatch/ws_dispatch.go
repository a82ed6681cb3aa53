package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/ridehail/internal/models"
)

const writeWait = 5 * time.Second

// WSSession represents one connected client socket
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) Send(ev models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(ev)
}

// WSRegistry holds live sockets per account and delivers events to recipients.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[string]map[*WSSession]struct{}
	logger   *slog.Logger
}

func NewWSRegistry(logger *slog.Logger) *WSRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSRegistry{sessions: make(map[string]map[*WSSession]struct{}), logger: logger}
}

// Serve registers conn for accountID and blocks reading until the peer goes away.
func (r *WSRegistry) Serve(accountID string, conn *websocket.Conn) {
	s := r.add(accountID, conn)
	defer func() {
		r.remove(accountID, s)
		_ = conn.Close()
	}()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (r *WSRegistry) add(accountID string, conn *websocket.Conn) *WSSession {
	s := &WSSession{conn: conn}
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.sessions[accountID]
	if !ok {
		set = make(map[*WSSession]struct{})
		r.sessions[accountID] = set
	}
	set[s] = struct{}{}
	return s
}

func (r *WSRegistry) remove(accountID string, s *WSSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.sessions[accountID]
	delete(set, s)
	if len(set) == 0 {
		delete(r.sessions, accountID)
	}
}

// Connected reports whether accountID has at least one live socket.
func (r *WSRegistry) Connected(accountID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions[accountID]) > 0
}

// Publish sends ev to every socket of every recipient. Returns ErrNoSession
// when no recipient is connected.
func (r *WSRegistry) Publish(_ context.Context, ev models.Event) error {
	var targets []*WSSession
	r.mu.RLock()
	for _, id := range ev.Recipients {
		for s := range r.sessions[id] {
			targets = append(targets, s)
		}
	}
	r.mu.RUnlock()
	if len(targets) == 0 {
		return ErrNoSession
	}
	var errs []error
	for _, s := range targets {
		if err := s.Send(ev); err != nil {
			r.logger.Warn("ws send error", "event", ev.Name, "ride_id", ev.RideID, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var ErrNoSession = &NoSessionError{}

type NoSessionError struct{}

func (n *NoSessionError) Error() string { return "no ws session" }
