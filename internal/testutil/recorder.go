package testutil

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/hypebeast/go-osc/osc"
)

// Packet is one OSC message captured by Recorder.
type Packet struct {
	Addr    string // host:port
	Message *osc.Message
}

// Recorder captures sends instead of putting them on the wire. It
// satisfies output.Sender.
type Recorder struct {
	mu      sync.Mutex
	packets []Packet
	fail    map[string]error
	notify  chan struct{}
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		fail:   make(map[string]error),
		notify: make(chan struct{}, 1),
	}
}

// FailFor makes sends to host:port return err.
func (r *Recorder) FailFor(host string, port int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail[net.JoinHostPort(host, strconv.Itoa(port))] = err
}

// Send records msg.
func (r *Recorder) Send(ctx context.Context, host string, port int, msg *osc.Message) error {
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	r.mu.Lock()
	defer r.mu.Unlock()

	if err, ok := r.fail[addr]; ok {
		return err
	}
	r.packets = append(r.packets, Packet{Addr: addr, Message: msg})
	select {
	case r.notify <- struct{}{}:
	default:
	}
	return nil
}

// Packets returns a copy of everything recorded so far.
func (r *Recorder) Packets() []Packet {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Packet(nil), r.packets...)
}

// To returns the recorded packets for host:port.
func (r *Recorder) To(addr string) []Packet {
	var out []Packet
	for _, p := range r.Packets() {
		if p.Addr == addr {
			out = append(out, p)
		}
	}
	return out
}

// Reset drops everything recorded so far.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.packets = nil
}

// WaitFor blocks until match reports true for the recorded packets or
// timeout expires.
func (r *Recorder) WaitFor(timeout time.Duration, match func([]Packet) bool) error {
	deadline := time.After(timeout)
	for {
		if match(r.Packets()) {
			return nil
		}
		select {
		case <-r.notify:
		case <-time.After(5 * time.Millisecond):
		case <-deadline:
			return fmt.Errorf("timed out after %s with %d packet(s)", timeout, len(r.Packets()))
		}
	}
}
