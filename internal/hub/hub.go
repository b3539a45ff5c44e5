package hub

import (
	"context"
	"errors"
	"log/slog"

	"github.com/roach88/tapsync/internal/engine"
	"github.com/roach88/tapsync/internal/routing"
)

// ErrClosed is returned by Serve once the hub has stopped.
var ErrClosed = errors.New("hub closed")

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) {
		h.logger = l
	}
}

// WithSessionBuffer sets the outbound queue length of each session.
func WithSessionBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// Hub fans engine events out to sessions and applies their intents.
//
// Run owns the session set and the latest snapshot; Serve may be called
// from any goroutine, once per connection.
type Hub struct {
	eng    *engine.Engine
	logger *slog.Logger
	buffer int

	attach  chan *Session
	detach  chan *Session
	stopped chan struct{}

	// Run loop state.
	sessions map[*Session]struct{}
	state    engine.State
	routing  routing.Table
	seq      uint64
}

// New creates a hub bound to eng.
func New(eng *engine.Engine, opts ...Option) *Hub {
	h := &Hub{
		eng:      eng,
		buffer:   DefaultSessionBuffer,
		attach:   make(chan *Session),
		detach:   make(chan *Session),
		stopped:  make(chan struct{}),
		sessions: make(map[*Session]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	return h
}

// Run broadcasts engine events until ctx is cancelled or the engine
// stops. It starts from the engine's current snapshot, so it may be
// started after the engine. All sessions are closed on return.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.stopped)
	defer h.closeAll()

	events := h.eng.Subscribe("hub")
	st, tbl, seq, err := h.eng.Current(ctx)
	if err != nil {
		return err
	}
	h.state, h.routing, h.seq = st, tbl, seq

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case s := <-h.attach:
			h.sessions[s] = struct{}{}
			s.send(encode(NewStatePayload(h.state)))
			s.send(encode(NewSettingsPayload(h.state, h.routing)))
			h.logger.Info("session attached", "session", s.ID, "sessions", len(h.sessions))

		case s := <-h.detach:
			if _, ok := h.sessions[s]; ok {
				delete(h.sessions, s)
				h.logger.Info("session detached", "session", s.ID, "sessions", len(h.sessions))
			}

		case ev, ok := <-events:
			if !ok {
				h.logger.Info("hub stopping: engine stopped")
				return nil
			}
			h.apply(ev)
		}
	}
}

// apply records ev and broadcasts what it changed. Events already
// covered by the starting snapshot are skipped.
func (h *Hub) apply(ev engine.Event) {
	if ev.Seq <= h.seq {
		return
	}
	h.seq = ev.Seq
	h.state = ev.State
	h.routing = ev.Routing

	if ev.Kind.TouchesState() {
		h.broadcast(encode(NewStatePayload(ev.State)))
	}
	if ev.Kind == engine.EventSettings {
		h.broadcast(encode(NewSettingsPayload(ev.State, ev.Routing)))
	}
}

func (h *Hub) broadcast(msg []byte) {
	for s := range h.sessions {
		s.send(msg)
	}
}

func (h *Hub) closeAll() {
	for s := range h.sessions {
		s.close()
		delete(h.sessions, s)
	}
}

// Serve attaches conn as a session and processes its messages until the
// connection fails, ctx is cancelled or the hub stops. The connection is
// closed on return.
func (h *Hub) Serve(ctx context.Context, conn Conn) error {
	s := newSession(conn, h.buffer, h.logger)
	defer s.close()

	select {
	case h.attach <- s:
	case <-h.stopped:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() {
		select {
		case h.detach <- s:
		case <-h.stopped:
		}
	}()

	go s.writeLoop(ctx)

	for {
		data, err := conn.ReadMessage(ctx)
		if err != nil {
			select {
			case <-s.done:
				return nil
			default:
			}
			return err
		}
		if reply := h.handle(ctx, data); reply != nil {
			s.send(reply)
		}
	}
}
