package engine

import (
	"context"
	"fmt"
	"math"

	"github.com/roach88/tapsync/internal/routing"
)

// do submits fn to the Run loop and waits for it to be applied.
func (e *Engine) do(ctx context.Context, name string, fn func() error) (State, error) {
	c := command{name: name, apply: fn, reply: make(chan result, 1)}
	if !e.queue.Enqueue(c) {
		return State{}, &CommandError{Command: name, Err: ErrStopped}
	}
	select {
	case r := <-c.reply:
		return r.state, r.err
	case <-ctx.Done():
		return State{}, &CommandError{Command: name, Err: ctx.Err()}
	}
}

func finite(name string, v float64) error {
	switch {
	case math.IsNaN(v):
		return fmt.Errorf("%w: %s is NaN", ErrInvalidValue, name)
	case math.IsInf(v, 0):
		return fmt.Errorf("%w: %s is infinite", ErrInvalidValue, name)
	}
	return nil
}

// setBPM replaces the tempo without touching beat phase. BPMChanged
// follows the displayed value, which is what outputs receive.
func (e *Engine) setBPM(bpm float64) {
	e.tick()
	prev := e.state.DisplayBPM()
	e.state.BPM = ClampBPM(bpm)
	e.emit(EventState, func(ev *Event) {
		ev.BPMChanged = e.state.DisplayBPM() != prev
	})
}

// Tap feeds the current time to the tap estimator. When an estimate is
// produced it replaces the BPM; otherwise the unchanged state is still
// published so sessions see the tap.
func (e *Engine) Tap(ctx context.Context) (State, error) {
	ts := e.now.Now()
	return e.do(ctx, "tap", func() error {
		if bpm, ok := e.estimator.Record(ts); ok {
			e.setBPM(bpm)
			return nil
		}
		e.emit(EventState, nil)
		return nil
	})
}

// SetBPM sets the tempo, clamped to [MinBPM, MaxBPM].
func (e *Engine) SetBPM(ctx context.Context, bpm float64) (State, error) {
	return e.do(ctx, "set_bpm", func() error {
		if err := finite("bpm", bpm); err != nil {
			return err
		}
		e.setBPM(bpm)
		return nil
	})
}

// Nudge adds delta to the tempo, clamped.
func (e *Engine) Nudge(ctx context.Context, delta float64) (State, error) {
	return e.do(ctx, "nudge", func() error {
		if err := finite("delta", delta); err != nil {
			return err
		}
		e.setBPM(e.state.BPM + delta)
		return nil
	})
}

// Halve divides the tempo by two, clamped.
func (e *Engine) Halve(ctx context.Context) (State, error) {
	return e.do(ctx, "halve", func() error {
		e.setBPM(e.state.BPM / 2)
		return nil
	})
}

// Double multiplies the tempo by two, clamped.
func (e *Engine) Double(ctx context.Context) (State, error) {
	return e.do(ctx, "double", func() error {
		e.setBPM(e.state.BPM * 2)
		return nil
	})
}

// SetRunning starts or stops phase advance. Stopping keeps beat and bar.
func (e *Engine) SetRunning(ctx context.Context, running bool) (State, error) {
	return e.do(ctx, "set_running", func() error {
		e.tick()
		e.state.Running = running
		e.emit(EventState, nil)
		return nil
	})
}

// ToggleMetronome flips the metronome flag.
func (e *Engine) ToggleMetronome(ctx context.Context) (State, error) {
	return e.do(ctx, "toggle_metronome", func() error {
		e.state.Metronome = !e.state.Metronome
		e.emit(EventMetronome, nil)
		return nil
	})
}

// SetMetronome sets the metronome flag.
func (e *Engine) SetMetronome(ctx context.Context, enabled bool) (State, error) {
	return e.do(ctx, "set_metronome", func() error {
		e.state.Metronome = enabled
		e.emit(EventMetronome, nil)
		return nil
	})
}

// ToggleRoundWholeBPM flips the display quantization mode.
func (e *Engine) ToggleRoundWholeBPM(ctx context.Context) (State, error) {
	return e.do(ctx, "toggle_bpm_rounding", func() error {
		e.setRounding(!e.state.RoundWholeBPM)
		return nil
	})
}

// SetRoundWholeBPM sets the display quantization mode.
func (e *Engine) SetRoundWholeBPM(ctx context.Context, enabled bool) (State, error) {
	return e.do(ctx, "set_round_whole_bpm", func() error {
		e.setRounding(enabled)
		return nil
	})
}

// setRounding changes only how BPM is reported; the mode is part of both
// the state and the settings views. When the reported value moves, the
// state event carries BPMChanged so outputs follow.
func (e *Engine) setRounding(enabled bool) {
	prev := e.state.DisplayBPM()
	e.state.RoundWholeBPM = enabled
	e.emit(EventState, func(ev *Event) {
		ev.BPMChanged = e.state.DisplayBPM() != prev
	})
	e.emit(EventSettings, nil)
}

// Resync realigns to beat 1 of bar 1 and makes every output push now,
// whether or not the BPM changed.
func (e *Engine) Resync(ctx context.Context) (State, error) {
	return e.do(ctx, "resync", func() error {
		e.lastTick = e.now.Now()
		e.state.resetPhase(&e.phase)
		e.emit(EventResync, nil)
		return nil
	})
}

// SyncOutput pushes the current tempo to a single output.
func (e *Engine) SyncOutput(ctx context.Context, target routing.Target) (State, error) {
	return e.do(ctx, "sync_output", func() error {
		e.emit(EventOutputSync, func(ev *Event) { ev.Target = target })
		return nil
	})
}

// TestBPM asks target to send bpm as if it were the tempo. TempoState is
// not changed.
func (e *Engine) TestBPM(ctx context.Context, target routing.Target, bpm float64) (State, error) {
	return e.do(ctx, "test_bpm", func() error {
		if err := finite("bpm", bpm); err != nil {
			return err
		}
		e.emit(EventTestBPM, func(ev *Event) {
			ev.Target = target
			ev.Value = bpm
		})
		return nil
	})
}

// TestResync asks target to send its resync trigger. TempoState is not
// changed.
func (e *Engine) TestResync(ctx context.Context, target routing.Target) (State, error) {
	return e.do(ctx, "test_resync", func() error {
		e.emit(EventTestResync, func(ev *Event) { ev.Target = target })
		return nil
	})
}

// UpdateRouting applies fn to a copy of the routing table. If fn returns
// an error the live table is untouched and nothing is published.
func (e *Engine) UpdateRouting(ctx context.Context, fn func(*routing.Table) error) (routing.Table, error) {
	var updated routing.Table
	_, err := e.do(ctx, "update_routing", func() error {
		next := e.routing.Clone()
		if err := fn(&next); err != nil {
			return err
		}
		e.routing = next
		updated = next.Clone()
		e.emit(EventSettings, nil)
		return nil
	})
	if err != nil {
		return routing.Table{}, err
	}
	return updated, nil
}

// Snapshot returns the current state.
func (e *Engine) Snapshot(ctx context.Context) (State, error) {
	return e.do(ctx, "snapshot", func() error { return nil })
}

// Current returns a consistent state and routing snapshot, and the
// sequence number of the last published event.
func (e *Engine) Current(ctx context.Context) (State, routing.Table, uint64, error) {
	var (
		tbl routing.Table
		seq uint64
	)
	st, err := e.do(ctx, "current", func() error {
		tbl = e.routing.Clone()
		seq = e.clock.Current()
		return nil
	})
	return st, tbl, seq, err
}
