package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/tapsync/internal/routing"
	"github.com/roach88/tapsync/internal/tap"
)

// Defaults for engine construction.
const (
	DefaultTickInterval     = 20 * time.Millisecond
	DefaultSubscriberBuffer = 256
)

// Option configures an Engine.
type Option func(*Engine)

// WithInitialBPM sets the starting tempo (clamped).
func WithInitialBPM(bpm float64) Option {
	return func(e *Engine) {
		e.state.BPM = ClampBPM(bpm)
	}
}

// WithRoundWholeBPM sets the starting display mode.
func WithRoundWholeBPM(enabled bool) Option {
	return func(e *Engine) {
		e.state.RoundWholeBPM = enabled
	}
}

// WithTickInterval sets the period of the internal ticker.
func WithTickInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.tickInterval = d
		}
	}
}

// WithTicks replaces the internal ticker with an external tick source.
// Tests use it to step the clock deterministically.
func WithTicks(ticks <-chan time.Time) Option {
	return func(e *Engine) {
		e.ticks = ticks
	}
}

// WithTimeSource sets the monotonic time source.
func WithTimeSource(ts TimeSource) Option {
	return func(e *Engine) {
		e.now = ts
	}
}

// WithEstimator replaces the default tap estimator.
func WithEstimator(est *tap.Estimator) Option {
	return func(e *Engine) {
		e.estimator = est
	}
}

// WithRouting sets the initial routing table.
func WithRouting(t routing.Table) Option {
	return func(e *Engine) {
		e.routing = t.Clone()
	}
}

// WithSubscriberBuffer sets the channel buffer of each subscription.
func WithSubscriberBuffer(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.subBuffer = n
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// Engine is the tempo clock actor.
//
// Thread-safety model:
//   - Command methods and Subscribe: safe from any goroutine
//   - Run: must be called from exactly one goroutine, once
//
// Fields below the marker are owned by the Run goroutine.
type Engine struct {
	queue        *commandQueue
	clock        *Clock
	now          TimeSource
	estimator    *tap.Estimator
	tickInterval time.Duration
	ticks        <-chan time.Time
	logger       *slog.Logger
	started      atomic.Bool

	subsMu    sync.Mutex
	subs      []subscriber
	closed    bool
	subBuffer int

	// Run loop state.
	state    State
	phase    float64
	lastTick time.Time
	routing  routing.Table
}

type subscriber struct {
	name string
	ch   chan Event
}

// New creates an engine in the RUNNING state at DefaultBPM, beat 1 bar 1.
func New(opts ...Option) *Engine {
	e := &Engine{
		queue:        newCommandQueue(),
		clock:        NewClock(),
		now:          systemTime{},
		tickInterval: DefaultTickInterval,
		subBuffer:    DefaultSubscriberBuffer,
		state:        initialState(DefaultBPM),
		routing:      routing.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.estimator == nil {
		e.estimator = tap.New()
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// Subscribe registers a consumer of events. The channel is closed when Run
// returns. Subscribing after that yields a closed channel.
func (e *Engine) Subscribe(name string) <-chan Event {
	e.subsMu.Lock()
	defer e.subsMu.Unlock()

	ch := make(chan Event, e.subBuffer)
	if e.closed {
		close(ch)
		return ch
	}
	e.subs = append(e.subs, subscriber{name: name, ch: ch})
	return ch
}

// Run processes ticks and commands until ctx is cancelled.
//
// A state event is published on entry so subscribers start from a known
// snapshot. On exit pending commands fail with ErrStopped and all
// subscription channels are closed.
func (e *Engine) Run(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return errors.New("engine already running")
	}

	ticks := e.ticks
	if ticks == nil {
		ticker := time.NewTicker(e.tickInterval)
		defer ticker.Stop()
		ticks = ticker.C
	}

	defer e.shutdown()

	e.logger.Info("engine starting", "bpm", e.state.BPM, "tick", e.tickInterval)
	e.lastTick = e.now.Now()
	e.emit(EventState, nil)

	for {
		if c, ok := e.queue.TryDequeue(); ok {
			e.execute(c)
			continue
		}

		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping: context cancelled")
			return ctx.Err()
		case <-e.queue.Wait():
		case <-ticks:
			e.tick()
		}
	}
}

func (e *Engine) shutdown() {
	for _, c := range e.queue.Close() {
		c.reply <- result{state: e.state, err: &CommandError{Command: c.name, Err: ErrStopped}}
	}

	e.subsMu.Lock()
	defer e.subsMu.Unlock()
	e.closed = true
	for _, s := range e.subs {
		close(s.ch)
	}
	e.subs = nil
}

// execute applies one command. Called only from Run.
func (e *Engine) execute(c command) {
	err := c.apply()
	if err != nil {
		e.logger.Debug("command rejected", "command", c.name, "error", err)
		err = &CommandError{Command: c.name, Err: err}
	} else {
		e.checkInvariants()
	}
	c.reply <- result{state: e.state, err: err}
}

// tick advances phase for the time elapsed since the previous tick at the
// BPM in effect during that interval. Commands that change BPM call it
// first so the new tempo only applies from that moment on.
func (e *Engine) tick() {
	now := e.now.Now()
	elapsed := now.Sub(e.lastTick)
	e.lastTick = now
	if elapsed <= 0 || !e.state.Running {
		return
	}
	if e.state.advance(&e.phase, elapsed.Seconds()*e.state.BPM/60) {
		e.checkInvariants()
		e.emit(EventState, nil)
	}
}

// emit stamps and publishes a snapshot. Called only from Run.
func (e *Engine) emit(kind EventKind, fill func(*Event)) {
	ev := Event{
		Seq:     e.clock.Next(),
		Kind:    kind,
		State:   e.state,
		Routing: e.routing.Clone(),
	}
	if fill != nil {
		fill(&ev)
	}
	e.publish(ev)
}

// publish never blocks; a full subscriber misses the event.
func (e *Engine) publish(ev Event) {
	e.subsMu.Lock()
	defer e.subsMu.Unlock()

	for _, s := range e.subs {
		select {
		case s.ch <- ev:
		default:
			e.logger.Warn("subscriber full, dropping event",
				"subscriber", s.name, "kind", ev.Kind, "seq", ev.Seq)
		}
	}
}

// QueueLen returns the number of commands waiting for the Run loop.
func (e *Engine) QueueLen() int {
	return e.queue.Len()
}
