package hub

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// DefaultSessionBuffer is the outbound queue length of a session.
const DefaultSessionBuffer = 64

// Session is one attached operator connection.
type Session struct {
	ID string

	conn   Conn
	out    chan []byte
	done   chan struct{}
	once   sync.Once
	logger *slog.Logger
}

func newSession(conn Conn, buffer int, logger *slog.Logger) *Session {
	id := uuid.New().String()
	return &Session{
		ID:     id,
		conn:   conn,
		out:    make(chan []byte, buffer),
		done:   make(chan struct{}),
		logger: logger.With("session", id),
	}
}

// send queues msg without blocking. A full queue drops it.
func (s *Session) send(msg []byte) {
	select {
	case <-s.done:
	case s.out <- msg:
	default:
		s.logger.Warn("session queue full, dropping message")
	}
}

// writeLoop drains the outbound queue. A write error closes the session.
func (s *Session) writeLoop(ctx context.Context) {
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.out:
			if err := s.conn.WriteMessage(ctx, msg); err != nil {
				s.logger.Debug("session write failed", "error", err)
				s.close()
				return
			}
		}
	}
}

// close is idempotent; closing the conn unblocks the read loop.
func (s *Session) close() {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}
