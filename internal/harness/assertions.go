package harness

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/roach88/tapsync/internal/routing"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string  // Assertion type for categorization
	Expected string  // Human-readable expected outcome
	Actual   string  // Human-readable actual outcome
	Trace    []Entry // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for i, entry := range e.Trace {
		switch entry.Type {
		case TraceStep:
			fmt.Fprintf(&buf, "  [%d] step %d %s\n", i+1, entry.Step, entry.Op)
		case TraceEvent:
			fmt.Fprintf(&buf, "  [%d]   %s #%d\n", i+1, entry.Kind, entry.Seq)
		case TraceOSC:
			fmt.Fprintf(&buf, "  [%d]     %s %s %v\n", i+1, entry.Target, entry.Address, entry.Args)
		}
	}

	return buf.String()
}

func check(r *Result, a Assertion) error {
	switch a.Type {
	case AssertEventCount:
		return assertEventCount(r, a)
	case AssertOSCCount:
		return assertOSCCount(r, a)
	case AssertOSCContains:
		return assertOSCContains(r, a)
	case AssertFinalState:
		return assertFinalState(r, a)
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

// assertEventCount checks that exactly Count events of Kind were
// published.
func assertEventCount(r *Result, a Assertion) error {
	count := 0
	for _, e := range r.Events() {
		if e.Kind == a.Kind {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertEventCount,
			Expected: fmt.Sprintf("%d %s event(s)", a.Count, a.Kind),
			Actual:   fmt.Sprintf("%d", count),
			Trace:    r.Trace,
		}
	}
	return nil
}

// assertOSCCount checks that Target received exactly Count messages,
// restricted to Addr and Address when they are set.
func assertOSCCount(r *Result, a Assertion) error {
	target := targetName(a.Target)
	count := 0
	for _, e := range r.OSC() {
		if e.Target == target && matchOptional(a.Addr, e.Addr) && matchOptional(a.Address, e.Address) {
			count++
		}
	}
	if count != a.Count {
		where := target
		if a.Addr != "" {
			where += "@" + a.Addr
		}
		if a.Address != "" {
			where += " " + a.Address
		}
		return &AssertionError{
			Type:     AssertOSCCount,
			Expected: fmt.Sprintf("%d message(s) to %s", a.Count, where),
			Actual:   fmt.Sprintf("%d", count),
			Trace:    r.Trace,
		}
	}
	return nil
}

// assertOSCContains checks that Target received a message at Address.
// When Args is set the rendered arguments must match exactly.
func assertOSCContains(r *Result, a Assertion) error {
	target := targetName(a.Target)
	for _, e := range r.OSC() {
		if e.Target != target || e.Address != a.Address || !matchOptional(a.Addr, e.Addr) {
			continue
		}
		if a.Args == nil || slices.Equal(e.Args, a.Args) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertOSCContains,
		Expected: fmt.Sprintf("%s %s %v", target, a.Address, a.Args),
		Actual:   "not found in trace",
		Trace:    r.Trace,
	}
}

// assertFinalState checks the state after the last step.
func assertFinalState(r *Result, a Assertion) error {
	problems := matchState(a.Expect, r.State)
	if len(problems) == 0 {
		return nil
	}
	return &AssertionError{
		Type:     AssertFinalState,
		Expected: fmt.Sprintf("%v", a.Expect),
		Actual:   strings.Join(problems, "; "),
		Trace:    r.Trace,
	}
}

func matchOptional(want, got string) bool {
	return want == "" || want == got
}

func targetName(s string) string {
	t, err := routing.ParseTarget(s)
	if err != nil {
		return s
	}
	return string(t)
}

// matchState compares the fields named in expect against v (subset
// semantics) and describes every mismatch.
func matchState(expect map[string]any, v StateView) []string {
	actual := map[string]any{
		"bpm":             v.BPM,
		"beat":            v.Beat,
		"bar":             v.Bar,
		"running":         v.Running,
		"metronome":       v.Metronome,
		"round_whole_bpm": v.RoundWholeBPM,
	}

	var problems []string
	for _, key := range stateFields {
		want, ok := expect[key]
		if !ok {
			continue
		}
		if !valuesEqual(want, actual[key]) {
			problems = append(problems, fmt.Sprintf("%s: want %v, got %v", key, want, actual[key]))
		}
	}
	return problems
}

func valuesEqual(want, got any) bool {
	wf, wok := number(want)
	gf, gok := number(got)
	if wok && gok {
		return math.Abs(wf-gf) < 1e-9
	}
	return want == got
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
