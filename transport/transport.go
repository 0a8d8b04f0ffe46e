// Package transport defines the byte stream and message framer abstractions
// shared by the HotSync protocol layers, and the error type every layer uses
// to report I/O failures of the underlying stream.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// ErrClosed is returned by framers and streams used after Close.
var ErrClosed = errors.New("transport: closed")

// Stream is a bidirectional byte stream: a serial port, a TCP socket or a
// USB bulk endpoint pair.
type Stream = io.ReadWriteCloser

// Framer turns a Stream into a message-oriented channel.
//
// ReadMessage and WriteMessage may be called from different goroutines, but
// each of them must not be called concurrently with itself.
type Framer interface {
	// ReadMessage blocks until one complete message has been received.
	ReadMessage(ctx context.Context) ([]byte, error)
	// WriteMessage sends msg as one message.
	WriteMessage(ctx context.Context, msg []byte) error
	// Close releases the framer and closes the underlying stream.
	Close() error
}

// Error reports a failure of the underlying stream.
type Error struct {
	// Op is the failed operation, e.g. "read", "write" or "padp send".
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap returns err as an *Error for op. It returns nil for a nil err and err
// itself when it already carries an *Error.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}

	var te *Error
	if errors.As(err, &te) {
		return err
	}

	return &Error{Op: op, Err: err}
}

// IsTransportError reports whether err was caused by the underlying stream.
func IsTransportError(err error) bool {
	var te *Error
	return errors.As(err, &te)
}

// ReadDeadliner is implemented by streams supporting read deadlines, such as
// net.Conn.
type ReadDeadliner interface {
	SetReadDeadline(t time.Time) error
}

// SetReadDeadline applies the deadline of ctx, or now+timeout when ctx has
// none and timeout is positive, to s when it supports read deadlines.
// Streams without deadline support are left untouched.
func SetReadDeadline(ctx context.Context, s any, timeout time.Duration) error {
	rd, ok := s.(ReadDeadliner)
	if !ok {
		return nil
	}

	var deadline time.Time
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	} else if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	return rd.SetReadDeadline(deadline)
}
