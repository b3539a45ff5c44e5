// Package harness runs scripted tempo scenarios against a real engine.
//
// A scenario drives the engine on a manual clock, records every published
// event and the OSC messages each output would send for it, and checks
// expectations and assertions against that trace.
//
// # Scenario Format
//
//	name: tap_then_resync
//	description: "Taps 500ms apart then a resync"
//	config:
//	  initial_bpm: 100
//	steps:
//	  - do: tap
//	  - do: tap
//	    after: 500ms
//	  - do: resync
//	    expect: { bpm: 120, beat: 1, bar: 1 }
//	  - do: set_bpm
//	    args: { bpm: .nan }
//	    expect_error: invalid value
//	assertions:
//	  - type: event_count
//	    kind: resync
//	    count: 1
//	  - type: osc_contains
//	    target: resolume
//	    address: /composition/tempocontroller/resync
//	    args: ["1"]
//
// config is a configuration overlay in the same form as the YAML config
// file. after advances the manual clock before the step runs; only the
// tick step delivers a tick to the engine.
//
// # Assertion Types
//
//   - event_count: the trace holds exactly count events of kind
//   - osc_count: target received exactly count messages, filtered by addr
//     (host:port) and address when set
//   - osc_contains: target received a message at address with args
//   - final_state: the state after the last step matches expect
//
// OSC arguments are rendered as strings: floats with four decimals, ints
// in decimal, strings verbatim. This keeps golden traces stable.
package harness
