package output

import (
	"fmt"

	"github.com/hypebeast/go-osc/osc"

	"github.com/roach88/tapsync/internal/engine"
	"github.com/roach88/tapsync/internal/routing"
)

// ConsoleAddress is the command-line address of the lighting console.
const ConsoleAddress = "/cmd"

// Console drives speed masters on a lighting console through its OSC
// command line: "Master <n> At BPM <v>". The primary master always gets
// the tempo; each extra master gets tempo times its multiplier, and a
// zero multiplier turns the extra off.
//
// Resync has no phase meaning for the console, so it pushes the tempo
// again.
type Console struct{}

// Target implements Adapter.
func (Console) Target() routing.Target { return routing.TargetConsole }

// Messages implements Adapter.
func (Console) Messages(ev engine.Event) []*osc.Message {
	switch {
	case pushesTempo(ev), ev.Kind == engine.EventResync, ev.Kind == engine.EventTestResync:
		return consoleTempo(ev.Routing.Console, ev.State.DisplayBPM(), ev.State.Step())
	case ev.Kind == engine.EventTestBPM:
		return consoleTempo(ev.Routing.Console, ev.Value, ev.State.Step())
	}
	return nil
}

func consoleTempo(p routing.ConsoleParams, bpm, step float64) []*osc.Message {
	msgs := []*osc.Message{consoleCommand(p.PrimaryMaster, bpm, step)}
	for _, x := range p.Extras {
		if x.Multiplier == 0 {
			continue
		}
		msgs = append(msgs, consoleCommand(x.Master, bpm*x.Multiplier, step))
	}
	return msgs
}

func consoleCommand(master string, bpm, step float64) *osc.Message {
	bpm = engine.RoundBPM(bpm, step)
	verb := "%.1f"
	if step >= 1 {
		verb = "%.0f"
	}
	return osc.NewMessage(ConsoleAddress, fmt.Sprintf("Master %s At BPM "+verb, master, bpm))
}
