package output

import (
	"github.com/hypebeast/go-osc/osc"

	"github.com/roach88/tapsync/internal/engine"
	"github.com/roach88/tapsync/internal/routing"
)

// Mapping drives projection mapping software through user-assigned OSC
// addresses. Tempo is normalized over the configured bpm_min..bpm_max;
// resync sends the configured trigger value, optionally followed by 0.
type Mapping struct{}

// Target implements Adapter.
func (Mapping) Target() routing.Target { return routing.TargetMapping }

// Messages implements Adapter.
func (Mapping) Messages(ev engine.Event) []*osc.Message {
	p := ev.Routing.Mapping
	switch {
	case pushesTempo(ev):
		return []*osc.Message{mappingTempo(p, ev.State.DisplayBPM())}
	case ev.Kind == engine.EventTestBPM:
		return []*osc.Message{mappingTempo(p, ev.Value)}
	case ev.Kind == engine.EventResync, ev.Kind == engine.EventTestResync:
		msgs := []*osc.Message{osc.NewMessage(p.ResyncAddress, float32(p.ResyncValue))}
		if p.ResyncSendZero {
			msgs = append(msgs, osc.NewMessage(p.ResyncAddress, float32(0)))
		}
		return msgs
	}
	return nil
}

func mappingTempo(p routing.MappingParams, bpm float64) *osc.Message {
	return osc.NewMessage(p.BPMAddress, float32(Normalize(bpm, p.BPMMin, p.BPMMax)))
}
