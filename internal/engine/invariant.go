package engine

import "fmt"

// checkInvariants enforces beat and bar bounds. Violations are programming
// errors: builds with the tapsync_debug tag panic, others clamp and log.
func (e *Engine) checkInvariants() {
	s := &e.state
	if s.Beat >= 1 && s.Beat <= BeatsPerBar && s.Bar >= 1 && s.BPM >= MinBPM && s.BPM <= MaxBPM {
		return
	}
	msg := fmt.Sprintf("tempo invariant violated: bpm=%g beat=%d bar=%d", s.BPM, s.Beat, s.Bar)
	if strictInvariants {
		panic(msg)
	}
	e.logger.Error(msg)
	s.Beat = min(max(s.Beat, 1), BeatsPerBar)
	s.Bar = max(s.Bar, 1)
	s.BPM = ClampBPM(s.BPM)
	e.logger.Debug("tempo state clamped", "beat", s.Beat, "bar", s.Bar, "bpm", s.BPM)
}
