package usb

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/Tavisco/palm-sync/logger"
	"github.com/Tavisco/palm-sync/transport"
)

// Stream is a byte stream over the bulk endpoints of an initialized device.
//
// Each Read is one bulk-in transfer of up to len(p) bytes and each Write is
// one bulk-out transfer. A transfer that completes with a non-OK status
// closes the stream. Stream implements transport.Stream.
type Stream struct {
	dev    Device
	ep     Endpoints
	logger logger.Logger

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
	closeErr  error
}

var _ transport.Stream = (*Stream)(nil)

// NewStream creates a stream over dev. The stream owns dev and closes it.
func NewStream(dev Device, ep Endpoints, l logger.Logger) *Stream {
	if l == nil {
		l = logger.GetLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Stream{dev: dev, ep: ep, logger: l, ctx: ctx, cancel: cancel}
}

// Read performs one bulk-in transfer.
func (s *Stream) Read(p []byte) (int, error) {
	if s.ctx.Err() != nil {
		return 0, io.EOF
	}

	res, err := s.dev.BulkIn(s.ctx, s.ep.In, len(p))
	if err != nil {
		if s.ctx.Err() != nil {
			return 0, io.EOF
		}
		return 0, transport.Wrap("usb read", err)
	}
	if res.Status != StatusOK {
		_ = s.Close()
		return 0, &transport.Error{Op: "usb read", Err: fmt.Errorf("%w: status %s", ErrTransfer, res.Status)}
	}

	return copy(p, res.Data), nil
}

// Write performs one bulk-out transfer.
func (s *Stream) Write(p []byte) (int, error) {
	if s.ctx.Err() != nil {
		return 0, transport.Wrap("usb write", transport.ErrClosed)
	}

	res, err := s.dev.BulkOut(s.ctx, s.ep.Out, p)
	if err != nil {
		return 0, transport.Wrap("usb write", err)
	}
	if res.Status != StatusOK {
		_ = s.Close()
		return 0, &transport.Error{Op: "usb write", Err: fmt.Errorf("%w: status %s", ErrTransfer, res.Status)}
	}

	return len(p), nil
}

// Close notifies the device, best effort, and closes it. Close is idempotent.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()

		ctx, cancel := context.WithTimeout(context.Background(), closeNotifyTimeout)
		defer cancel()
		if _, err := s.dev.ControlOut(ctx, Setup{Request: CloseNotification}, nil); err != nil {
			s.logger.Debug("usb: close notification failed", "error", err)
		}

		s.closeErr = s.dev.Close()
	})

	return s.closeErr
}
