package output

import (
	"testing"

	"github.com/hypebeast/go-osc/osc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tapsync/internal/engine"
	"github.com/roach88/tapsync/internal/routing"
)

func event(kind engine.EventKind, bpm float64) engine.Event {
	return engine.Event{
		Kind:       kind,
		State:      engine.State{BPM: bpm, Beat: 1, Bar: 1, Running: true, RoundWholeBPM: true},
		Routing:    routing.Default(),
		BPMChanged: kind == engine.EventState,
	}
}

func args(msgs []*osc.Message) []any {
	var out []any
	for _, m := range msgs {
		out = append(out, m.Arguments...)
	}
	return out
}

func addresses(msgs []*osc.Message) []string {
	var out []string
	for _, m := range msgs {
		out = append(out, m.Address)
	}
	return out
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, 0.0, Normalize(20, 20, 999))
	assert.Equal(t, 1.0, Normalize(999, 20, 999))
	assert.InDelta(t, 0.5, Normalize(509.5, 20, 999), 1e-9)
	assert.Equal(t, 0.0, Normalize(5, 20, 999), "clamped below")
	assert.Equal(t, 1.0, Normalize(2000, 20, 999), "clamped above")
	assert.Equal(t, 0.0, Normalize(100, 50, 50), "degenerate range")
}

func TestConsole_Tempo(t *testing.T) {
	ev := event(engine.EventState, 121.4)
	msgs := Console{}.Messages(ev)
	require.Len(t, msgs, 1)
	assert.Equal(t, ConsoleAddress, msgs[0].Address)
	assert.Equal(t, []any{"Master 3.1 At BPM 121"}, args(msgs))

	ev.State.RoundWholeBPM = false
	assert.Equal(t, []any{"Master 3.1 At BPM 121.4"}, args(Console{}.Messages(ev)))
}

func TestConsole_Extras(t *testing.T) {
	ev := event(engine.EventState, 128)
	ev.Routing.Console.Extras = []routing.ConsoleExtra{
		{Master: "3.2", Multiplier: 0.5},
		{Master: "3.3", Multiplier: 0},
		{Master: "3.4", Multiplier: 2},
	}
	assert.Equal(t, []any{
		"Master 3.1 At BPM 128",
		"Master 3.2 At BPM 64",
		"Master 3.4 At BPM 256",
	}, args(Console{}.Messages(ev)))
}

func TestConsole_ResyncPushesTempo(t *testing.T) {
	assert.Len(t, Console{}.Messages(event(engine.EventResync, 120)), 1)

	ev := event(engine.EventState, 120)
	ev.BPMChanged = false
	assert.Empty(t, Console{}.Messages(ev), "beat ticks are not sent")
	assert.Empty(t, Console{}.Messages(event(engine.EventMetronome, 120)))
}

func TestVJ_Messages(t *testing.T) {
	msgs := VJ{}.Messages(event(engine.EventState, 260))
	assert.Equal(t, []string{VJTempoAddress}, addresses(msgs))
	assert.Equal(t, []any{float32(0.5)}, args(msgs))

	msgs = VJ{}.Messages(event(engine.EventResync, 260))
	assert.Equal(t, []string{VJResyncAddress}, addresses(msgs))
	assert.Equal(t, []any{int32(1)}, args(msgs))

	ev := event(engine.EventMetronome, 260)
	ev.State.Metronome = true
	msgs = VJ{}.Messages(ev)
	assert.Equal(t, []string{VJMetronomeAddress}, addresses(msgs))
	assert.Equal(t, []any{int32(1)}, args(msgs))

	msgs = VJ{}.Messages(event(engine.EventOutputSync, 260))
	assert.Equal(t, []string{VJTempoAddress, VJMetronomeAddress}, addresses(msgs))
}

func TestMapping_Messages(t *testing.T) {
	msgs := Mapping{}.Messages(event(engine.EventState, 20))
	assert.Equal(t, []any{float32(0)}, args(msgs))

	ev := event(engine.EventTestBPM, 120)
	ev.Value = 509.5
	msgs = Mapping{}.Messages(ev)
	assert.Equal(t, []string{routing.DefaultBPMAddress}, addresses(msgs))
	assert.Equal(t, []any{float32(0.5)}, args(msgs))

	msgs = Mapping{}.Messages(event(engine.EventResync, 120))
	assert.Equal(t, []string{routing.DefaultResyncAddress}, addresses(msgs))
	assert.Equal(t, []any{float32(1)}, args(msgs))

	ev = event(engine.EventTestResync, 120)
	ev.Routing.Mapping.ResyncSendZero = true
	ev.Routing.Mapping.ResyncValue = 0.75
	assert.Equal(t, []any{float32(0.75), float32(0)}, args(Mapping{}.Messages(ev)))
}

func TestAddressed(t *testing.T) {
	ev := event(engine.EventTestBPM, 120)
	ev.Target = routing.TargetMapping
	assert.True(t, addressed(ev, routing.TargetMapping))
	assert.False(t, addressed(ev, routing.TargetVJ))
	assert.True(t, addressed(event(engine.EventResync, 120), routing.TargetVJ))
}
