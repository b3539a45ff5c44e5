package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/tapsync/internal/config"
	"github.com/roach88/tapsync/internal/engine"
	"github.com/roach88/tapsync/internal/output"
	"github.com/roach88/tapsync/internal/testutil"
)

// commandTimeout bounds every engine command issued by a step.
const commandTimeout = 2 * time.Second

// Harness runs one scenario. The engine ticks only when a tick step says
// so, and output delivery happens inline, so a run is deterministic.
type Harness struct {
	eng      *engine.Engine
	clock    *testutil.ManualClock
	ticks    chan time.Time
	events   <-chan engine.Event
	outputs  *output.Runner
	adapters []output.Adapter
	rec      *testutil.Recorder
	result   *Result
}

// Run executes a scenario and returns the result. The returned error is
// non-nil only if the scenario cannot be set up; step and assertion
// failures are reported in the Result.
func Run(s *Scenario) (*Result, error) {
	cfg, err := scenarioConfig(s.Config)
	if err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &Harness{
		clock:    testutil.NewManualClock(),
		ticks:    make(chan time.Time),
		adapters: output.Adapters(),
		rec:      testutil.NewRecorder(),
		result:   NewResult(),
	}
	h.eng = engine.New(
		engine.WithInitialBPM(cfg.InitialBPM),
		engine.WithRoundWholeBPM(cfg.RoundWholeBPM),
		engine.WithRouting(cfg.Table()),
		engine.WithTimeSource(h.clock),
		engine.WithTicks(h.ticks),
		engine.WithLogger(logger),
	)
	h.outputs = output.NewRunner(h.rec, h.adapters, output.WithRunnerLogger(logger))
	h.events = h.eng.Subscribe("harness")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.eng.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	// The startup snapshot is published before the first command is
	// applied, so a round trip guarantees it has been recorded.
	if err := h.fence(ctx); err != nil {
		return nil, err
	}
	h.collect(ctx, 0)

	for i, step := range s.Steps {
		h.run(ctx, i+1, step)
	}

	final, err := h.command(ctx, func(ctx context.Context) (engine.State, error) {
		return h.eng.Snapshot(ctx)
	})
	if err != nil {
		return nil, err
	}
	h.result.State = view(final)

	for _, a := range s.Assertions {
		if err := check(h.result, a); err != nil {
			h.result.AddError(err.Error())
		}
	}
	return h.result, nil
}

// scenarioConfig builds a validated configuration from the overlay.
func scenarioConfig(overlay map[string]any) (*config.Config, error) {
	if len(overlay) == 0 {
		return config.Default(), nil
	}
	data, err := yaml.Marshal(overlay)
	if err != nil {
		return nil, fmt.Errorf("encode scenario config: %w", err)
	}
	cfg, err := config.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("scenario config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("scenario config: %w", err)
	}
	return cfg, nil
}

func (h *Harness) run(ctx context.Context, n int, step Step) {
	if step.After > 0 {
		h.clock.Advance(step.After)
	}

	entry := Entry{Type: TraceStep, Step: n, Op: step.Do}
	stepCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	err := ops[step.Do](stepCtx, h, args(step.Args))
	cancel()
	if err != nil {
		entry.Error = err.Error()
	}
	h.result.Trace = append(h.result.Trace, entry)

	label := fmt.Sprintf("step %d (%s)", n, step.Do)
	switch {
	case err != nil && step.ExpectError == "":
		h.result.AddError(fmt.Sprintf("%s: unexpected error: %v", label, err))
	case err != nil && !strings.Contains(err.Error(), step.ExpectError):
		h.result.AddError(fmt.Sprintf("%s: error %q does not contain %q", label, err, step.ExpectError))
	case err == nil && step.ExpectError != "":
		h.result.AddError(fmt.Sprintf("%s: expected error containing %q", label, step.ExpectError))
	}

	h.collect(ctx, n)

	if len(step.Expect) == 0 {
		return
	}
	st, err := h.command(ctx, func(ctx context.Context) (engine.State, error) {
		return h.eng.Snapshot(ctx)
	})
	if err != nil {
		h.result.AddError(fmt.Sprintf("%s: snapshot: %v", label, err))
		return
	}
	for _, problem := range matchState(step.Expect, view(st)) {
		h.result.AddError(fmt.Sprintf("%s: %s", label, problem))
	}
}

// collect records the events already published and the OSC messages each
// output produces for them. Commands publish before replying, so every
// event a finished step produced is buffered.
func (h *Harness) collect(ctx context.Context, n int) {
	for {
		select {
		case ev, ok := <-h.events:
			if !ok {
				return
			}
			st := view(ev.State)
			h.result.Trace = append(h.result.Trace, Entry{
				Type:  TraceEvent,
				Step:  n,
				Kind:  ev.Kind.String(),
				Seq:   ev.Seq,
				State: &st,
			})
			h.deliver(ctx, n, ev)
		default:
			return
		}
	}
}

func (h *Harness) deliver(ctx context.Context, n int, ev engine.Event) {
	for _, a := range h.adapters {
		h.rec.Reset()
		if err := h.outputs.Deliver(ctx, a, ev); err != nil {
			h.result.AddError(fmt.Sprintf("step %d: deliver to %s: %v", n, a.Target(), err))
		}
		for _, p := range h.rec.Packets() {
			h.result.Trace = append(h.result.Trace, Entry{
				Type:    TraceOSC,
				Step:    n,
				Target:  string(a.Target()),
				Addr:    p.Addr,
				Address: p.Message.Address,
				Args:    renderArgs(p.Message.Arguments),
			})
		}
	}
}

func (h *Harness) fence(ctx context.Context) error {
	_, err := h.command(ctx, func(ctx context.Context) (engine.State, error) {
		return h.eng.Snapshot(ctx)
	})
	return err
}

func (h *Harness) command(ctx context.Context, fn func(context.Context) (engine.State, error)) (engine.State, error) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	return fn(ctx)
}

// renderArgs formats OSC arguments for the trace.
func renderArgs(in []any) []string {
	out := make([]string, len(in))
	for i, v := range in {
		switch v := v.(type) {
		case float32:
			out[i] = strconv.FormatFloat(float64(v), 'f', 4, 32)
		case float64:
			out[i] = strconv.FormatFloat(v, 'f', 4, 64)
		case int32:
			out[i] = strconv.FormatInt(int64(v), 10)
		case string:
			out[i] = v
		default:
			out[i] = fmt.Sprint(v)
		}
	}
	return out
}
