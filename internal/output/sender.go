package output

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/hypebeast/go-osc/osc"
)

// Sender delivers one OSC message to host:port.
type Sender interface {
	Send(ctx context.Context, host string, port int, msg *osc.Message) error
}

// UDPSender sends each message as a single UDP datagram. The write is
// bounded by the context deadline.
type UDPSender struct {
	dialer net.Dialer
}

// NewUDPSender creates a UDPSender.
func NewUDPSender() *UDPSender {
	return &UDPSender{}
}

// Send implements Sender.
func (s *UDPSender) Send(ctx context.Context, host string, port int, msg *osc.Message) error {
	data, err := msg.MarshalBinary()
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.Address, err)
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := s.dialer.DialContext(ctx, "udp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetWriteDeadline(deadline); err != nil {
			return fmt.Errorf("set deadline %s: %w", addr, err)
		}
	}
	if _, err := conn.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", addr, err)
	}
	return nil
}
