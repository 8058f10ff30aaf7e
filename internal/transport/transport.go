// Package transport opens full-duplex session streams.
//
// A Dialer turns a session id into an open Conn. Incoming frames and
// lifecycle notifications are delivered to Handlers from a single reader
// goroutine, in arrival order. OnClose fires exactly once per connection,
// whether the peer dropped it or Close was called locally.
package transport

import (
	"context"
	"errors"

	"github.com/codefionn/sessionbridge/internal/protocol"
)

var (
	// ErrClosed is returned when sending on a connection that is no longer open
	ErrClosed = errors.New("connection closed")
	// ErrSendBufferFull is returned when the outgoing queue cannot take another frame
	ErrSendBufferFull = errors.New("send buffer full")
)

// Handlers receive connection events. Nil fields are skipped.
type Handlers struct {
	OnOpen    func()
	OnMessage func(raw []byte)
	OnError   func(err error)
	OnClose   func()
}

// Conn is one open session stream
type Conn interface {
	// Send queues a frame for delivery. It never blocks on the network.
	Send(frame protocol.Frame) error
	// Close closes the connection. It is idempotent.
	Close() error
	// IsOpen reports whether frames can currently be sent
	IsOpen() bool
}

// Dialer opens a stream for a session id
type Dialer interface {
	Dial(ctx context.Context, sessionID string, h Handlers) (Conn, error)
}
