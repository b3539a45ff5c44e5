// Package engine implements the tempo clock.
//
// The engine owns the single TempoState and the live routing table. All
// mutation happens on one goroutine, the Run loop, which processes a
// merged stream of clock ticks and commands in arrival order:
//
//   - Commands (tap, set BPM, nudge, resync, routing updates, ...) are
//     submitted from any goroutine. Each is enqueued on a FIFO queue and
//     the caller blocks until the Run loop has applied it.
//   - Ticks advance beat phase at the BPM in effect for the elapsed
//     interval.
//
// Every change is published as an Event carrying a complete State and
// routing snapshot, so a subscriber never observes a new BPM with a stale
// beat or bar. Subscribers are independent: publishing never blocks, and a
// subscriber whose buffer is full misses that event.
//
// Events are stamped with a strictly increasing sequence number from
// Clock. Timing (tap gaps, tick elapsed time) comes from a TimeSource that
// must be monotonic; the default uses time.Now, whose readings carry
// Go's monotonic clock.
package engine
