package output

import (
	"github.com/hypebeast/go-osc/osc"

	"github.com/roach88/tapsync/internal/engine"
	"github.com/roach88/tapsync/internal/routing"
)

// Composition tempo controller addresses of the VJ software.
const (
	VJTempoAddress     = "/composition/tempocontroller/tempo"
	VJResyncAddress    = "/composition/tempocontroller/resync"
	VJMetronomeAddress = "/composition/tempocontroller/metronome"
)

// The VJ software expects tempo as a fraction of this fixed range.
const (
	VJMinBPM = 20.0
	VJMaxBPM = 500.0
)

// VJ sends normalized tempo, resync triggers and metronome changes as
// separate messages.
type VJ struct{}

// Target implements Adapter.
func (VJ) Target() routing.Target { return routing.TargetVJ }

// Messages implements Adapter.
func (VJ) Messages(ev engine.Event) []*osc.Message {
	switch ev.Kind {
	case engine.EventState:
		if ev.BPMChanged {
			return []*osc.Message{vjTempo(ev.State.DisplayBPM())}
		}
	case engine.EventOutputSync:
		return []*osc.Message{
			vjTempo(ev.State.DisplayBPM()),
			vjMetronome(ev.State.Metronome),
		}
	case engine.EventResync, engine.EventTestResync:
		return []*osc.Message{osc.NewMessage(VJResyncAddress, int32(1))}
	case engine.EventMetronome:
		return []*osc.Message{vjMetronome(ev.State.Metronome)}
	case engine.EventTestBPM:
		return []*osc.Message{vjTempo(ev.Value)}
	}
	return nil
}

func vjTempo(bpm float64) *osc.Message {
	return osc.NewMessage(VJTempoAddress, float32(Normalize(bpm, VJMinBPM, VJMaxBPM)))
}

func vjMetronome(on bool) *osc.Message {
	var v int32
	if on {
		v = 1
	}
	return osc.NewMessage(VJMetronomeAddress, v)
}
