// ABOUTME: Error taxonomy for the reconnecting agent transport.
// ABOUTME: ConnectionError wraps dial/handshake failures, SendError wraps enqueue failures.

package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed indicates the connection was closed and will not reconnect.
	ErrClosed = errors.New("transport: connection closed")

	// ErrDisconnected indicates no stream is established and queueing is disabled.
	ErrDisconnected = errors.New("transport: not connected")

	// ErrQueueFull indicates the outbound queue has no free slot.
	ErrQueueFull = errors.New("transport: outbound queue full")

	// ErrHandshake indicates the peer did not complete the Welcome handshake.
	ErrHandshake = errors.New("transport: handshake failed")

	// ErrAddressRequired indicates a client was configured without an address.
	ErrAddressRequired = errors.New("transport: address required")
)

// ConnectionError reports that a stream to the gateway could not be established.
type ConnectionError struct {
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connecting to %s: %v", e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// SendError reports that a named message could not be enqueued.
type SendError struct {
	Name string
	Err  error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("sending %s: %v", e.Name, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }
