package dlp

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Tavisco/palm-sync/logger"
	"github.com/Tavisco/palm-sync/transport"
)

// Executor runs DLP requests. *Conn implements it; hotsync connections
// implement it with a lifecycle check in front.
type Executor interface {
	Execute(ctx context.Context, req *Request) (*Response, error)
}

// ConnectionMetrics contains atomic metrics for a DLP connection.
// Metrics can be used as the value of a prometheus CounterFunc.
type ConnectionMetrics struct {
	// RequestCount indicates the number of requests sent.
	RequestCount atomic.Uint64
	// StatusErrCount indicates the number of responses with a non-zero status.
	StatusErrCount atomic.Uint64
	// ErrCount indicates the number of requests failed by transport or codec errors.
	ErrCount atomic.Uint64
}

// Conn sends DLP requests over a framer and decodes their responses.
//
// DLP is strictly request/response: a Conn has at most one request in
// flight, and a concurrent Execute fails with ErrRequestInFlight.
type Conn struct {
	framer   transport.Framer
	logger   logger.Logger
	inFlight atomic.Bool
	metrics  ConnectionMetrics
}

var _ Executor = (*Conn)(nil)

// NewConn creates a DLP connection over f. A nil l uses the default logger.
func NewConn(f transport.Framer, l logger.Logger) *Conn {
	if l == nil {
		l = logger.GetLogger()
	}

	return &Conn{framer: f, logger: l}
}

// Metrics returns the connection metrics.
func (c *Conn) Metrics() *ConnectionMetrics {
	return &c.metrics
}

// Execute sends req and waits for its response.
//
// A response with a non-zero status is returned together with a
// *StatusError. Transport failures are returned as they come from the
// framer, wrapped in transport.Error.
func (c *Conn) Execute(ctx context.Context, req *Request) (*Response, error) {
	if req == nil || req.Command == nil {
		return nil, ErrNilRequest
	}
	if !c.inFlight.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("%w: %s", ErrRequestInFlight, req.Command.Name)
	}
	defer c.inFlight.Store(false)

	c.metrics.RequestCount.Add(1)
	start := time.Now()

	resp, err := c.execute(ctx, req)

	var se *StatusError
	switch {
	case err == nil:
	case errors.As(err, &se):
		c.metrics.StatusErrCount.Add(1)
	default:
		c.metrics.ErrCount.Add(1)
	}

	c.logger.Debug("dlp: request",
		"command", req.Command.Name,
		"elapsed", time.Since(start),
		"error", err,
	)

	return resp, err
}

func (c *Conn) execute(ctx context.Context, req *Request) (*Response, error) {
	data, err := req.Marshal()
	if err != nil {
		return nil, err
	}

	if err := c.framer.WriteMessage(ctx, data); err != nil {
		return nil, err
	}

	raw, err := c.framer.ReadMessage(ctx)
	if err != nil {
		return nil, err
	}

	return ParseResponse(req.Command, raw)
}
