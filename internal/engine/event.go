package engine

import "github.com/roach88/tapsync/internal/routing"

// EventKind classifies an Event.
type EventKind int

const (
	// EventState reports a TempoState change (command or beat tick).
	EventState EventKind = iota + 1
	// EventSettings reports a routing table or display mode change.
	EventSettings
	// EventResync reports a phase realignment; outputs must push now.
	EventResync
	// EventMetronome reports a metronome flag change.
	EventMetronome
	// EventOutputSync asks the output named by Target to push current tempo.
	EventOutputSync
	// EventTestBPM asks Target to send Value as if it were the tempo.
	EventTestBPM
	// EventTestResync asks Target to send its resync trigger.
	EventTestResync
)

var eventKindNames = map[EventKind]string{
	EventState:      "state",
	EventSettings:   "settings",
	EventResync:     "resync",
	EventMetronome:  "metronome",
	EventOutputSync: "output_sync",
	EventTestBPM:    "test_bpm",
	EventTestResync: "test_resync",
}

func (k EventKind) String() string {
	if name, ok := eventKindNames[k]; ok {
		return name
	}
	return "unknown"
}

// TouchesState reports whether sessions should receive a state broadcast.
func (k EventKind) TouchesState() bool {
	return k == EventState || k == EventResync || k == EventMetronome
}

// Event is a consistent snapshot published after every change.
type Event struct {
	Seq     uint64
	Kind    EventKind
	State   State
	Routing routing.Table

	// BPMChanged is set on EventState when the displayed BPM moved.
	BPMChanged bool

	// Target and Value address EventOutputSync, EventTestBPM and
	// EventTestResync to a single output.
	Target routing.Target
	Value  float64
}
