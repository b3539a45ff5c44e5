package output

import (
	"github.com/hypebeast/go-osc/osc"

	"github.com/roach88/tapsync/internal/engine"
	"github.com/roach88/tapsync/internal/routing"
)

// Adapter turns an event into the messages one target expects.
type Adapter interface {
	Target() routing.Target
	Messages(ev engine.Event) []*osc.Message
}

// Adapters returns the three stock adapters in routing.Targets order.
func Adapters() []Adapter {
	return []Adapter{Console{}, VJ{}, Mapping{}}
}

// Normalize maps bpm linearly from [lo, hi] onto [0, 1], clamped at both
// ends. hi must be greater than lo; otherwise Normalize returns 0.
func Normalize(bpm, lo, hi float64) float64 {
	if hi <= lo {
		return 0
	}
	v := (bpm - lo) / (hi - lo)
	return min(max(v, 0), 1)
}

// addressed reports whether ev concerns target. Targeted kinds name a
// single output; everything else goes to all of them.
func addressed(ev engine.Event, target routing.Target) bool {
	switch ev.Kind {
	case engine.EventOutputSync, engine.EventTestBPM, engine.EventTestResync:
		return ev.Target == target
	default:
		return true
	}
}

// pushesTempo reports whether ev should carry the current tempo outward.
func pushesTempo(ev engine.Event) bool {
	return (ev.Kind == engine.EventState && ev.BPMChanged) || ev.Kind == engine.EventOutputSync
}
