package harness

import "github.com/roach88/tapsync/internal/engine"

// Trace entry types.
const (
	TraceStep  = "step"
	TraceEvent = "event"
	TraceOSC   = "osc"
)

// StateView is the outward view of a tempo state, as sessions see it.
type StateView struct {
	BPM           float64 `json:"bpm"`
	Beat          int     `json:"beat"`
	Bar           int     `json:"bar"`
	Running       bool    `json:"running"`
	Metronome     bool    `json:"metronome"`
	RoundWholeBPM bool    `json:"round_whole_bpm"`
}

func view(s engine.State) StateView {
	return StateView{
		BPM:           s.DisplayBPM(),
		Beat:          s.Beat,
		Bar:           s.Bar,
		Running:       s.Running,
		Metronome:     s.Metronome,
		RoundWholeBPM: s.RoundWholeBPM,
	}
}

// Entry is one line of a scenario trace: a step, an engine event, or an
// OSC message produced for that event.
type Entry struct {
	Type    string     `json:"type"`
	Step    int        `json:"step"`
	Op      string     `json:"op,omitempty"`
	Error   string     `json:"error,omitempty"`
	Kind    string     `json:"kind,omitempty"`
	Seq     uint64     `json:"seq,omitempty"`
	State   *StateView `json:"state,omitempty"`
	Target  string     `json:"target,omitempty"`
	Addr    string     `json:"addr,omitempty"`
	Address string     `json:"address,omitempty"`
	Args    []string   `json:"args,omitempty"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when no step expectation or assertion failed.
	Pass bool `json:"pass"`

	// Trace holds steps, events and OSC messages in order.
	Trace []Entry `json:"trace"`

	// Errors contains validation error messages.
	Errors []string `json:"errors,omitempty"`

	// State is the state after the last step.
	State StateView `json:"state"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []Entry{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Events returns the event entries of the trace.
func (r *Result) Events() []Entry {
	return r.filter(TraceEvent)
}

// OSC returns the OSC entries of the trace.
func (r *Result) OSC() []Entry {
	return r.filter(TraceOSC)
}

func (r *Result) filter(typ string) []Entry {
	var out []Entry
	for _, e := range r.Trace {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}
