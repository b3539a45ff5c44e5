// Package hub connects operator sessions to the tempo engine.
//
// A Hub runs as a single goroutine that owns the set of attached sessions
// and the latest state and routing snapshot. Engine events are fanned out
// to every session as full state or settings payloads; inbound intents
// from any session are applied to the engine in arrival order. Each
// session has its own bounded outbound queue and writer goroutine, so a
// slow client only loses its own messages.
package hub
