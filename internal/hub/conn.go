package hub

import "context"

// Conn is a message-oriented, full duplex session transport.
//
// ReadMessage is called from one goroutine and WriteMessage from another.
// Close must unblock a pending ReadMessage.
type Conn interface {
	ReadMessage(ctx context.Context) ([]byte, error)
	WriteMessage(ctx context.Context, data []byte) error
	Close() error
}
