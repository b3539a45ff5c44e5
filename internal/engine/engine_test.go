package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tapsync/internal/routing"
	"github.com/roach88/tapsync/internal/testutil"
)

type harness struct {
	eng    *Engine
	clock  *testutil.ManualClock
	ticks  chan time.Time
	events <-chan Event
	cancel context.CancelFunc
	done   chan error
	once   sync.Once
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startEngine runs an engine on a manual clock with an unbuffered tick
// channel: a tick send returns only once the Run loop has taken it, so a
// command submitted afterwards is applied after that tick.
func startEngine(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		clock: testutil.NewManualClock(),
		ticks: make(chan time.Time),
		done:  make(chan error, 1),
	}
	opts = append([]Option{
		WithTimeSource(h.clock),
		WithTicks(h.ticks),
		WithLogger(quietLogger()),
	}, opts...)
	h.eng = New(opts...)
	h.events = h.eng.Subscribe("test")

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- h.eng.Run(ctx) }()
	t.Cleanup(h.stop)

	// Wait for the startup snapshot.
	select {
	case ev := <-h.events:
		require.Equal(t, EventState, ev.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not start")
	}
	return h
}

func (h *harness) stop() {
	h.once.Do(func() {
		h.cancel()
		<-h.done
	})
}

func (h *harness) tickAfter(d time.Duration) {
	h.ticks <- h.clock.Advance(d)
}

// drain returns the events already published. Commands publish before
// replying, so everything a finished command produced is here.
func (h *harness) drain() []Event {
	var out []Event
	for {
		select {
		case ev, ok := <-h.events:
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func kinds(evs []Event) []EventKind {
	out := make([]EventKind, len(evs))
	for i, ev := range evs {
		out[i] = ev.Kind
	}
	return out
}

func TestEngine_New(t *testing.T) {
	e := New()
	assert.Equal(t, DefaultBPM, e.state.BPM)
	assert.Equal(t, 1, e.state.Beat)
	assert.Equal(t, 1, e.state.Bar)
	assert.True(t, e.state.Running)
	assert.True(t, e.state.RoundWholeBPM)
	assert.Equal(t, DefaultTickInterval, e.tickInterval)
	assert.NoError(t, e.routing.Validate())
}

func TestEngine_InitialBPMIsClamped(t *testing.T) {
	assert.Equal(t, MaxBPM, New(WithInitialBPM(900)).state.BPM)
	assert.Equal(t, MinBPM, New(WithInitialBPM(1)).state.BPM)
}

func TestEngine_RunTwice(t *testing.T) {
	h := startEngine(t)
	err := h.eng.Run(context.Background())
	assert.Error(t, err)
}

func TestEngine_TickAdvancesBeatAndBar(t *testing.T) {
	h := startEngine(t)
	ctx := context.Background()

	h.tickAfter(250 * time.Millisecond)
	assert.Empty(t, h.drain(), "half a beat publishes nothing")

	h.tickAfter(250 * time.Millisecond)
	st, err := h.eng.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Beat)
	assert.Equal(t, 1, st.Bar)

	evs := h.drain()
	require.Len(t, evs, 1)
	assert.Equal(t, EventState, evs[0].Kind)
	assert.False(t, evs[0].BPMChanged)
	assert.Equal(t, 2, evs[0].State.Beat)

	// Three more beats in one tick: 2 -> 3 -> 4 -> 1 of bar 2.
	h.tickAfter(1500 * time.Millisecond)
	st, err = h.eng.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Beat)
	assert.Equal(t, 2, st.Bar)
}

func TestEngine_BPMChangeIsNotRetroactive(t *testing.T) {
	h := startEngine(t)
	ctx := context.Background()

	// Half a beat elapses at 120 BPM before the change.
	h.clock.Advance(250 * time.Millisecond)
	_, err := h.eng.SetBPM(ctx, 60)
	require.NoError(t, err)

	// Another half beat at 60 BPM takes 500ms.
	h.tickAfter(400 * time.Millisecond)
	st, _ := h.eng.Snapshot(ctx)
	assert.Equal(t, 1, st.Beat)

	h.tickAfter(200 * time.Millisecond)
	st, _ = h.eng.Snapshot(ctx)
	assert.Equal(t, 2, st.Beat)
}

func TestEngine_TapSequence(t *testing.T) {
	h := startEngine(t, WithInitialBPM(90))
	ctx := context.Background()

	st, err := h.eng.Tap(ctx)
	require.NoError(t, err)
	assert.Equal(t, 90.0, st.BPM, "a single tap produces no estimate")

	evs := h.drain()
	require.Len(t, evs, 1, "taps are published even without an estimate")
	assert.False(t, evs[0].BPMChanged)

	for i := 0; i < 2; i++ {
		h.clock.Advance(500 * time.Millisecond)
		st, err = h.eng.Tap(ctx)
		require.NoError(t, err)
	}
	assert.InDelta(t, 120.0, st.BPM, 1e-9)
}

func TestEngine_TapKeepsPhase(t *testing.T) {
	h := startEngine(t)
	ctx := context.Background()

	h.tickAfter(1000 * time.Millisecond) // beat 3
	_, err := h.eng.Tap(ctx)
	require.NoError(t, err)
	h.clock.Advance(400 * time.Millisecond)
	st, err := h.eng.Tap(ctx)
	require.NoError(t, err)

	assert.InDelta(t, 150.0, st.BPM, 1e-9)
	assert.Equal(t, 3, st.Beat)
	assert.Equal(t, 1, st.Bar)
}

func TestEngine_ConcreteScenario(t *testing.T) {
	h := startEngine(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if i > 0 {
			h.clock.Advance(500 * time.Millisecond)
		}
		_, err := h.eng.Tap(ctx)
		require.NoError(t, err)
	}
	st, _ := h.eng.Snapshot(ctx)
	assert.InDelta(t, 120.0, st.BPM, 1e-9)

	st, err := h.eng.Nudge(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 121.0, st.DisplayBPM())

	_, err = h.eng.SetRoundWholeBPM(ctx, false)
	require.NoError(t, err)
	st, err = h.eng.Nudge(ctx, 0.1)
	require.NoError(t, err)
	assert.Equal(t, 121.1, st.DisplayBPM())

	h.tickAfter(700 * time.Millisecond)
	h.drain()

	st, err = h.eng.Resync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Beat)
	assert.Equal(t, 1, st.Bar)

	evs := h.drain()
	require.Len(t, evs, 1)
	assert.Equal(t, EventResync, evs[0].Kind)
	assert.InDelta(t, 121.1, evs[0].State.BPM, 1e-9)
}

func TestEngine_ResyncWithoutBPMChange(t *testing.T) {
	h := startEngine(t)
	st, err := h.eng.Resync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, st.Beat)
	assert.Equal(t, []EventKind{EventResync}, kinds(h.drain()))
}

func TestEngine_HalveDoubleClamp(t *testing.T) {
	h := startEngine(t)
	ctx := context.Background()

	st, _ := h.eng.Halve(ctx)
	assert.Equal(t, 60.0, st.BPM)

	_, _ = h.eng.SetBPM(ctx, 30)
	st, _ = h.eng.Halve(ctx)
	assert.Equal(t, MinBPM, st.BPM)

	_, _ = h.eng.SetBPM(ctx, 200)
	st, _ = h.eng.Double(ctx)
	assert.Equal(t, MaxBPM, st.BPM)
}

func TestEngine_RejectsNonFinite(t *testing.T) {
	h := startEngine(t)
	ctx := context.Background()

	_, err := h.eng.SetBPM(ctx, nan())
	assert.ErrorIs(t, err, ErrInvalidValue)
	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, "set_bpm", cmdErr.Command)

	_, err = h.eng.Nudge(ctx, nan())
	assert.ErrorIs(t, err, ErrInvalidValue)

	_, err = h.eng.SetBPM(ctx, math.Inf(1))
	assert.ErrorIs(t, err, ErrInvalidValue)
	_, err = h.eng.Nudge(ctx, math.Inf(-1))
	assert.ErrorIs(t, err, ErrInvalidValue)
	_, err = h.eng.TestBPM(ctx, routing.TargetMapping, math.Inf(1))
	assert.ErrorIs(t, err, ErrInvalidValue)

	st, _ := h.eng.Snapshot(ctx)
	assert.Equal(t, DefaultBPM, st.BPM)
	assert.Empty(t, h.drain())
}

func TestEngine_BPMAlwaysInRange(t *testing.T) {
	h := startEngine(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 500; i++ {
		var (
			st  State
			err error
		)
		switch rng.Intn(6) {
		case 0:
			st, err = h.eng.SetBPM(ctx, rng.Float64()*1000-200)
		case 1:
			st, err = h.eng.Nudge(ctx, rng.Float64()*200-100)
		case 2:
			st, err = h.eng.Halve(ctx)
		case 3:
			st, err = h.eng.Double(ctx)
		case 4:
			h.clock.Advance(time.Duration(rng.Intn(600)) * time.Millisecond)
			st, err = h.eng.Tap(ctx)
		case 5:
			st, err = h.eng.Resync(ctx)
		}
		require.NoError(t, err)
		require.GreaterOrEqual(t, st.BPM, MinBPM)
		require.LessOrEqual(t, st.BPM, MaxBPM)
	}
}

func TestEngine_BPMChangedFlag(t *testing.T) {
	h := startEngine(t)
	ctx := context.Background()

	_, _ = h.eng.SetBPM(ctx, 128)
	_, _ = h.eng.SetBPM(ctx, 128)
	_, _ = h.eng.Nudge(ctx, 500)
	_, _ = h.eng.Nudge(ctx, 1)

	evs := h.drain()
	require.Len(t, evs, 4)
	assert.True(t, evs[0].BPMChanged)
	assert.False(t, evs[1].BPMChanged)
	assert.True(t, evs[2].BPMChanged)
	assert.False(t, evs[3].BPMChanged, "already clamped at the maximum")
}

func TestEngine_StopAndStart(t *testing.T) {
	h := startEngine(t)
	ctx := context.Background()

	st, err := h.eng.SetRunning(ctx, false)
	require.NoError(t, err)
	assert.False(t, st.Running)

	h.tickAfter(2 * time.Second)
	st, _ = h.eng.Snapshot(ctx)
	assert.Equal(t, 1, st.Beat, "stopped clock does not advance")

	_, _ = h.eng.SetRunning(ctx, true)
	h.tickAfter(500 * time.Millisecond)
	st, _ = h.eng.Snapshot(ctx)
	assert.Equal(t, 2, st.Beat, "time spent stopped is not replayed")
}

func TestEngine_MetronomeAndRounding(t *testing.T) {
	h := startEngine(t)
	ctx := context.Background()

	st, _ := h.eng.ToggleMetronome(ctx)
	assert.True(t, st.Metronome)
	st, _ = h.eng.SetMetronome(ctx, false)
	assert.False(t, st.Metronome)

	st, _ = h.eng.ToggleRoundWholeBPM(ctx)
	assert.False(t, st.RoundWholeBPM)
	assert.Equal(t, DefaultBPM, st.BPM, "display mode does not alter the tempo")

	assert.Equal(t,
		[]EventKind{EventMetronome, EventMetronome, EventState, EventSettings},
		kinds(h.drain()))
}

func TestEngine_RoundingChangeFlagsDisplayedBPM(t *testing.T) {
	h := startEngine(t, WithRoundWholeBPM(false))
	ctx := context.Background()

	_, err := h.eng.SetBPM(ctx, 121.4)
	require.NoError(t, err)
	_, err = h.eng.SetRoundWholeBPM(ctx, true)
	require.NoError(t, err)
	_, err = h.eng.SetBPM(ctx, 121.3)
	require.NoError(t, err)
	_, err = h.eng.SetRoundWholeBPM(ctx, true)
	require.NoError(t, err)

	evs := h.drain()
	require.Len(t, evs, 6)
	assert.True(t, evs[0].BPMChanged)
	assert.Equal(t, EventState, evs[1].Kind)
	assert.True(t, evs[1].BPMChanged, "121.4 is reported as 121")
	assert.Equal(t, 121.0, evs[1].State.DisplayBPM())
	assert.Equal(t, EventSettings, evs[2].Kind)
	assert.False(t, evs[3].BPMChanged, "121.3 still displays as 121")
	assert.False(t, evs[4].BPMChanged, "mode unchanged")
	assert.Equal(t, EventSettings, evs[5].Kind)
}

func TestEngine_UpdateRouting(t *testing.T) {
	h := startEngine(t)
	ctx := context.Background()

	tbl, err := h.eng.UpdateRouting(ctx, func(tbl *routing.Table) error {
		return tbl.SetAddress(routing.TargetMapping, "10.0.0.5", 9500)
	})
	require.NoError(t, err)
	assert.Equal(t, 9500, tbl.Endpoint(routing.TargetMapping).Port)

	evs := h.drain()
	require.Len(t, evs, 1)
	assert.Equal(t, EventSettings, evs[0].Kind)
	assert.Equal(t, "10.0.0.5", evs[0].Routing.Endpoint(routing.TargetMapping).IP)

	// Invalid update: no change, no event.
	_, err = h.eng.UpdateRouting(ctx, func(tbl *routing.Table) error {
		bpmMax := 10.0
		return tbl.SetMapping(routing.MappingUpdate{BPMMax: &bpmMax})
	})
	var verr *routing.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Empty(t, h.drain())

	_, cur, _, err := h.eng.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, routing.DefaultMappingBPMMax, cur.Mapping.BPMMax)
}

func TestEngine_EventsCarrySnapshots(t *testing.T) {
	h := startEngine(t)
	ctx := context.Background()

	_, _ = h.eng.UpdateRouting(ctx, func(tbl *routing.Table) error {
		return tbl.SetEnabled(routing.TargetVJ, false)
	})
	evs := h.drain()
	require.Len(t, evs, 1)

	// Mutating a delivered snapshot must not leak into the engine.
	require.NoError(t, evs[0].Routing.SetEnabled(routing.TargetVJ, true))
	_, cur, _, _ := h.eng.Current(ctx)
	assert.False(t, cur.Endpoint(routing.TargetVJ).Enabled)
}

func TestEngine_SequenceIsMonotonic(t *testing.T) {
	h := startEngine(t)
	ctx := context.Background()

	_, _ = h.eng.SetBPM(ctx, 100)
	_, _ = h.eng.Resync(ctx)
	_, _ = h.eng.ToggleMetronome(ctx)

	evs := h.drain()
	require.Len(t, evs, 3)
	for i := 1; i < len(evs); i++ {
		assert.Greater(t, evs[i].Seq, evs[i-1].Seq)
	}

	_, _, seq, err := h.eng.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, evs[2].Seq, seq)
}

func TestEngine_TestSendsLeaveStateAlone(t *testing.T) {
	h := startEngine(t)
	ctx := context.Background()

	_, err := h.eng.TestBPM(ctx, routing.TargetMapping, 140)
	require.NoError(t, err)
	_, err = h.eng.TestResync(ctx, routing.TargetMapping)
	require.NoError(t, err)
	_, err = h.eng.SyncOutput(ctx, routing.TargetConsole)
	require.NoError(t, err)

	evs := h.drain()
	require.Len(t, evs, 3)
	assert.Equal(t, EventTestBPM, evs[0].Kind)
	assert.Equal(t, 140.0, evs[0].Value)
	assert.Equal(t, routing.TargetMapping, evs[0].Target)
	assert.Equal(t, EventTestResync, evs[1].Kind)
	assert.Equal(t, EventOutputSync, evs[2].Kind)

	st, _ := h.eng.Snapshot(ctx)
	assert.Equal(t, DefaultBPM, st.BPM)
}

func TestEngine_SlowSubscriberDoesNotBlock(t *testing.T) {
	h := startEngine(t)
	ctx := context.Background()
	_ = h.eng.Subscribe("never-read")

	for i := 0; i < 3*DefaultSubscriberBuffer; i++ {
		_, err := h.eng.Nudge(ctx, 0.1)
		require.NoError(t, err)
		h.drain()
	}
}

func TestEngine_StoppedEngine(t *testing.T) {
	h := startEngine(t)
	h.stop()

	_, ok := <-h.events
	assert.False(t, ok, "subscriptions close when Run returns")

	_, err := h.eng.SetBPM(context.Background(), 100)
	assert.ErrorIs(t, err, ErrStopped)

	_, ok = <-h.eng.Subscribe("late")
	assert.False(t, ok)
}

func TestEngine_CommandRespectsContext(t *testing.T) {
	e := New(WithLogger(quietLogger()))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := e.Snapshot(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, 1, e.QueueLen())
}

func nan() float64 {
	var zero float64
	return zero / zero
}
