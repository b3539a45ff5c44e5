package output

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/tapsync/internal/engine"
)

// DefaultSendTimeout bounds a single packet send.
const DefaultSendTimeout = 250 * time.Millisecond

// Source is the event feed adapters subscribe to. *engine.Engine
// satisfies it.
type Source interface {
	Subscribe(name string) <-chan engine.Event
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithSendTimeout sets the per-packet send timeout.
func WithSendTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithRunnerLogger sets the logger. Defaults to slog.Default().
func WithRunnerLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = l
	}
}

// Runner delivers adapter output. Each adapter has its own subscription
// and goroutine, so a slow or failing target never holds up the others.
type Runner struct {
	sender   Sender
	adapters []Adapter
	timeout  time.Duration
	logger   *slog.Logger

	feeds []<-chan engine.Event
}

// NewRunner creates a runner for adapters.
func NewRunner(sender Sender, adapters []Adapter, opts ...RunnerOption) *Runner {
	r := &Runner{
		sender:   sender,
		adapters: adapters,
		timeout:  DefaultSendTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Subscribe registers one subscription per adapter. It must be called
// before Run, and before the source starts, to observe every event.
func (r *Runner) Subscribe(src Source) {
	r.feeds = make([]<-chan engine.Event, len(r.adapters))
	for i, a := range r.adapters {
		r.feeds[i] = src.Subscribe("output/" + string(a.Target()))
	}
}

// Run delivers events until ctx is cancelled or every feed is closed.
func (r *Runner) Run(ctx context.Context) error {
	if r.feeds == nil {
		return errors.New("output runner: Run called before Subscribe")
	}

	var wg sync.WaitGroup
	for i, a := range r.adapters {
		wg.Add(1)
		go func(a Adapter, feed <-chan engine.Event) {
			defer wg.Done()
			r.loop(ctx, a, feed)
		}(a, r.feeds[i])
	}
	wg.Wait()
	return nil
}

func (r *Runner) loop(ctx context.Context, a Adapter, feed <-chan engine.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-feed:
			if !ok {
				return
			}
			_ = r.Deliver(ctx, a, ev)
		}
	}
}

// Deliver sends a's messages for ev if the target is enabled in the
// event's routing snapshot. Every message is attempted; failures are
// logged and returned joined.
func (r *Runner) Deliver(ctx context.Context, a Adapter, ev engine.Event) error {
	target := a.Target()
	if !addressed(ev, target) {
		return nil
	}
	ep := ev.Routing.Endpoint(target)
	if !ep.Enabled {
		return nil
	}

	var errs []error
	for _, msg := range a.Messages(ev) {
		sendCtx, cancel := context.WithTimeout(ctx, r.timeout)
		err := r.sender.Send(sendCtx, ep.IP, ep.Port, msg)
		cancel()
		if err != nil {
			r.logger.Warn("output send failed",
				"target", target, "ip", ep.IP, "port", ep.Port,
				"address", msg.Address, "error", err)
			errs = append(errs, fmt.Errorf("%s %s: %w", target, msg.Address, err))
			continue
		}
		r.logger.Debug("output sent",
			"target", target, "address", msg.Address, "seq", ev.Seq)
	}
	return errors.Join(errs...)
}
