package engine

import (
	"math"

	"github.com/roach88/tapsync/internal/tap"
)

// Tempo limits and defaults.
const (
	MinBPM      = tap.MinBPM
	MaxBPM      = tap.MaxBPM
	DefaultBPM  = 120.0
	BeatsPerBar = 4
)

// State is the authoritative tempo state. Copies are snapshots.
type State struct {
	BPM           float64
	Beat          int
	Bar           int
	Running       bool
	Metronome     bool
	RoundWholeBPM bool
}

func initialState(bpm float64) State {
	return State{
		BPM:           ClampBPM(bpm),
		Beat:          1,
		Bar:           1,
		Running:       true,
		RoundWholeBPM: true,
	}
}

// ClampBPM limits bpm to [MinBPM, MaxBPM].
func ClampBPM(bpm float64) float64 {
	return tap.Clamp(bpm)
}

// Step is the display and nudge granularity for the rounding mode.
func (s State) Step() float64 {
	if s.RoundWholeBPM {
		return 1.0
	}
	return 0.1
}

// DisplayBPM is the BPM as reported outward: whole numbers when
// RoundWholeBPM is set, one decimal otherwise. The underlying BPM is not
// changed.
func (s State) DisplayBPM() float64 {
	return RoundBPM(s.BPM, s.Step())
}

// RoundBPM rounds half-up to a multiple of step.
func RoundBPM(bpm, step float64) float64 {
	if step <= 0 {
		return bpm
	}
	rounded := math.Floor(bpm/step+0.5) * step
	return math.Round(rounded*1e6) / 1e6
}

// advance moves the beat phase forward by beats and reports whether the
// beat changed. phase is the fraction of the current beat already elapsed.
func (s *State) advance(phase *float64, beats float64) bool {
	*phase += beats
	changed := false
	for *phase >= 1 {
		*phase--
		s.Beat++
		if s.Beat > BeatsPerBar {
			s.Beat = 1
			if s.Bar < math.MaxInt {
				s.Bar++
			}
		}
		changed = true
	}
	return changed
}

// resetPhase realigns to beat 1 of bar 1.
func (s *State) resetPhase(phase *float64) {
	s.Beat, s.Bar = 1, 1
	*phase = 0
}
