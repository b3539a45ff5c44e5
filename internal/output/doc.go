// Package output translates engine events into OSC packets for the three
// downstream products: a lighting console (ma3), VJ software (resolume)
// and projection mapping software (heavym).
//
// Each Adapter is a pure function of an engine.Event: it reads the tempo
// state and its own routing parameters from the event snapshot and returns
// the messages to send. The Runner owns delivery: one goroutine per
// adapter, an enabled check against the snapshot, and a bounded,
// best-effort send through a Sender.
package output
