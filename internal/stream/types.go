package stream

import (
	"errors"
	"fmt"
	"time"
)

// ClientConfig holds settings for a single WebSocket connection.
type ClientConfig struct {
	URL          string
	PingInterval time.Duration // How often to send keepalive pings
	PingTimeout  time.Duration // Stale-connection threshold
	WriteTimeout time.Duration
	BufferSize   int // Capacity of the inbound message channel
}

// TimestampedMessage is a raw inbound message with its local receive time.
type TimestampedMessage struct {
	Data       []byte
	ReceivedAt time.Time
}

var (
	// ErrNotConnected is returned by Send before Connect succeeds.
	ErrNotConnected = errors.New("stream: not connected")

	// ErrAlreadyClosed is returned by Connect after Close.
	ErrAlreadyClosed = errors.New("stream: client closed")

	// ErrStaleConnection signals a connection with no ping traffic within
	// the configured timeout.
	ErrStaleConnection = errors.New("stream: stale connection, no ping received")

	// ErrUnauthorized signals the server rejected the handshake credential.
	ErrUnauthorized = errors.New("stream: handshake unauthorized")
)

// StreamError is the terminal outcome of a subscription: the open stream
// ended unexpectedly. The engine decides whether to resubscribe.
type StreamError struct {
	SessionID string // Subscription session id for log correlation
	Err       error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("stream session %s terminated: %v", e.SessionID, e.Err)
}

func (e *StreamError) Unwrap() error {
	return e.Err
}
