// Package netsync implements the length-prefixed message framing used by
// network HotSync and by USB devices that speak NetSync over their bulk
// endpoints.
//
// Each message is sent as
//
//	[type u8 = 1][xid u8][length u32 BE][payload]
//
// The framing has no acknowledgements or retransmissions; reliability comes
// from the underlying stream.
package netsync

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Tavisco/palm-sync/logger"
	"github.com/Tavisco/palm-sync/transport"
)

const (
	// HeaderSize is the size of the NetSync message header in bytes.
	HeaderSize = 6

	// TypeData is the only NetSync message type carried on a sync session.
	TypeData byte = 0x01
)

// Default NetSync parameters.
const (
	DefaultMaxMessageSize = 1 << 20
	DefaultPayloadTimeout = 5 * time.Second

	MaxMaxMessageSize = 1 << 28
)

// Sentinel errors for the NetSync framing.
var (
	ErrBadFrameType    = errors.New("netsync: unexpected frame type")
	ErrMessageTooLarge = errors.New("netsync: message too large")
	ErrConnClosed      = errors.New("netsync: connection closed")
)

// ConnectionMetrics contains atomic metrics for a NetSync connection.
// Metrics can be used as the value of a prometheus CounterFunc.
type ConnectionMetrics struct {
	// MsgSendCount indicates the number of messages sent.
	MsgSendCount atomic.Uint64
	// MsgRecvCount indicates the number of messages received.
	MsgRecvCount atomic.Uint64
	// ByteSendCount indicates the number of payload bytes sent.
	ByteSendCount atomic.Uint64
	// ByteRecvCount indicates the number of payload bytes received.
	ByteRecvCount atomic.Uint64
}

type connConfig struct {
	maxMessageSize int
	payloadTimeout time.Duration
	logger         logger.Logger
}

// ConnOption is a functional option for configuring a Conn.
type ConnOption interface {
	apply(*connConfig) error
}

type connOptFunc func(*connConfig) error

func (f connOptFunc) apply(cfg *connConfig) error { return f(cfg) }

// WithMaxMessageSize sets the largest payload accepted from the remote end.
func WithMaxMessageSize(n int) ConnOption {
	return connOptFunc(func(cfg *connConfig) error {
		if n <= 0 || n > MaxMaxMessageSize {
			return fmt.Errorf("netsync: max message size %d out of range [1, %d]", n, MaxMaxMessageSize)
		}
		cfg.maxMessageSize = n

		return nil
	})
}

// WithPayloadTimeout sets how long a read waits for the payload once its
// header arrived, on streams supporting read deadlines.
func WithPayloadTimeout(d time.Duration) ConnOption {
	return connOptFunc(func(cfg *connConfig) error {
		if d <= 0 {
			return errors.New("netsync: payload timeout must be positive")
		}
		cfg.payloadTimeout = d

		return nil
	})
}

// WithLogger sets the logger of the connection.
func WithLogger(l logger.Logger) ConnOption {
	return connOptFunc(func(cfg *connConfig) error {
		if l == nil {
			return errors.New("netsync: logger must not be nil")
		}
		cfg.logger = l

		return nil
	})
}

// Conn is a NetSync connection over a byte stream, implementing
// transport.Framer.
type Conn struct {
	stream  transport.Stream
	cfg     connConfig
	metrics ConnectionMetrics

	readMu  sync.Mutex
	lenBuf  [HeaderSize]byte
	lastXID atomic.Uint32

	writeMu sync.Mutex
	xid     byte

	closed    atomic.Bool
	closeOnce sync.Once
}

var _ transport.Framer = (*Conn)(nil)

// NewConn creates a NetSync connection owning stream.
func NewConn(stream transport.Stream, opts ...ConnOption) (*Conn, error) {
	c := &Conn{
		stream: stream,
		cfg: connConfig{
			maxMessageSize: DefaultMaxMessageSize,
			payloadTimeout: DefaultPayloadTimeout,
			logger:         logger.GetLogger(),
		},
	}

	for _, opt := range opts {
		if err := opt.apply(&c.cfg); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// Metrics returns the connection metrics.
func (c *Conn) Metrics() *ConnectionMetrics {
	return &c.metrics
}

// LastXID returns the transaction id of the last message received.
func (c *Conn) LastXID() byte {
	return byte(c.lastXID.Load())
}

// ReadMessage reads one complete message.
//
// The header read waits until ctx is done, allowing idle sessions; the
// payload must then arrive within the payload timeout. Cancelling ctx
// interrupts a blocked read; on streams without read deadlines this closes
// the stream.
func (c *Conn) ReadMessage(ctx context.Context) ([]byte, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	if c.closed.Load() {
		return nil, transport.Wrap("netsync read", ErrConnClosed)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stop := context.AfterFunc(ctx, c.interruptRead)
	defer stop()

	if err := transport.SetReadDeadline(ctx, c.stream, 0); err != nil {
		return nil, transport.Wrap("netsync read", err)
	}
	if _, err := io.ReadFull(c.stream, c.lenBuf[:]); err != nil {
		return nil, c.readError(ctx, err)
	}

	if c.lenBuf[0] != TypeData {
		return nil, fmt.Errorf("%w: 0x%02X", ErrBadFrameType, c.lenBuf[0])
	}
	c.lastXID.Store(uint32(c.lenBuf[1]))

	msgLen := binary.BigEndian.Uint32(c.lenBuf[2:])
	if msgLen > uint32(c.cfg.maxMessageSize) { //nolint:gosec
		return nil, fmt.Errorf("%w: %d bytes exceed %d", ErrMessageTooLarge, msgLen, c.cfg.maxMessageSize)
	}

	if err := transport.SetReadDeadline(ctx, c.stream, c.cfg.payloadTimeout); err != nil {
		return nil, transport.Wrap("netsync read", err)
	}

	payload := make([]byte, msgLen)
	if _, err := io.ReadFull(c.stream, payload); err != nil {
		return nil, c.readError(ctx, err)
	}

	c.metrics.MsgRecvCount.Add(1)
	c.metrics.ByteRecvCount.Add(uint64(msgLen))

	return payload, nil
}

// WriteMessage sends msg as one NetSync message with the next transaction id.
func (c *Conn) WriteMessage(ctx context.Context, msg []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed.Load() {
		return transport.Wrap("netsync write", ErrConnClosed)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.xid++
	if c.xid == 0 {
		c.xid = 1
	}

	buf := make([]byte, 0, HeaderSize+len(msg))
	buf = append(buf, TypeData, c.xid)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(msg))) //nolint:gosec
	buf = append(buf, msg...)

	if _, err := c.stream.Write(buf); err != nil {
		return transport.Wrap("netsync write", err)
	}

	c.metrics.MsgSendCount.Add(1)
	c.metrics.ByteSendCount.Add(uint64(len(msg)))

	return nil
}

// Close closes the connection and its stream. It is safe to call Close more
// than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		err = c.stream.Close()
	})

	return err
}

func (c *Conn) interruptRead() {
	if rd, ok := c.stream.(transport.ReadDeadliner); ok {
		_ = rd.SetReadDeadline(time.Unix(1, 0))
		return
	}

	c.cfg.logger.Debug("netsync: closing stream to interrupt read")
	_ = c.Close()
}

func (c *Conn) readError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if d, ok := ctx.Deadline(); ok && errors.Is(err, os.ErrDeadlineExceeded) && !time.Now().Before(d) {
		return context.DeadlineExceeded
	}
	if c.closed.Load() {
		return transport.Wrap("netsync read", ErrConnClosed)
	}

	return transport.Wrap("netsync read", err)
}
