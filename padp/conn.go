package padp

import (
	"bufio"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Tavisco/palm-sync/internal/pool"
	"github.com/Tavisco/palm-sync/logger"
	"github.com/Tavisco/palm-sync/transport"
)

// Sentinel errors for the PADP protocol.
var (
	// Frame errors. Corrupted frames are dropped by the reader and counted.
	ErrBadSignature     = errors.New("padp: bad SLP signature")
	ErrHeaderChecksum   = errors.New("padp: SLP header checksum mismatch")
	ErrChecksumMismatch = errors.New("padp: SLP CRC mismatch")
	ErrMalformedPacket  = errors.New("padp: malformed packet")

	// Fragment errors.
	ErrFragmentOutOfOrder = errors.New("padp: fragment out of order")
	ErrMessageTooLarge    = errors.New("padp: message too large")
	ErrSendFailure        = errors.New("padp: fragment send failure, retries exhausted")
	ErrRemoteMemory       = errors.New("padp: remote end out of memory")

	// Connection errors.
	ErrAborted     = errors.New("padp: aborted by remote end")
	ErrReadTimeout = errors.New("padp: read timeout")
	ErrConnClosed  = errors.New("padp: connection closed")
)

var errAckTimeout = errors.New("padp: ack timeout")

type inbound struct {
	msg []byte
	err error
}

// Conn is a PADP connection over a byte stream, implementing
// transport.Framer.
//
// A background goroutine reads frames from the stream, acks and reassembles
// data fragments and hands complete messages to ReadMessage. WriteMessage
// fragments a message and sends each fragment stop-and-wait, retransmitting
// it until it is acked or the retry limit is reached.
//
// ReadMessage and WriteMessage may run concurrently with each other.
type Conn struct {
	stream  transport.Stream
	cfg     *ConnectionConfig
	logger  logger.Logger
	metrics ConnectionMetrics

	reader *bufio.Reader
	asm    *assembler

	msgs chan inbound
	acks chan *Packet

	// sendMu serializes outgoing messages and guards xid.
	sendMu sync.Mutex
	xid    byte
	// wireMu serializes frame writes of the sender and the reader's acks.
	wireMu sync.Mutex

	closed     chan struct{}
	closeOnce  sync.Once
	readerDone chan struct{}
	readErr    error
}

var _ transport.Framer = (*Conn)(nil)

// NewConn starts a PADP connection on stream. A nil cfg uses the defaults.
//
// The connection owns stream from now on; Close closes it.
func NewConn(stream transport.Stream, cfg *ConnectionConfig) *Conn {
	if cfg == nil {
		cfg, _ = NewConnectionConfig()
	}

	c := &Conn{
		stream:     stream,
		cfg:        cfg,
		logger:     cfg.GetLogger(),
		reader:     bufio.NewReaderSize(stream, slpHeaderSize+maxSLPBodySize+slpTrailerSize),
		asm:        newAssembler(cfg.maxMessageSize),
		msgs:       make(chan inbound, cfg.queueSize),
		acks:       make(chan *Packet, 4),
		closed:     make(chan struct{}),
		readerDone: make(chan struct{}),
	}

	go c.readLoop()

	return c
}

// Metrics returns the connection metrics.
func (c *Conn) Metrics() *ConnectionMetrics {
	return &c.metrics
}

// ReadMessage returns the next complete message from the remote end.
//
// It waits at most the configured read timeout. An abort packet from the
// remote end fails the read with ErrAborted.
func (c *Conn) ReadMessage(ctx context.Context) ([]byte, error) {
	var timeoutC <-chan time.Time
	if c.cfg.readTimeout > 0 {
		timer := pool.GetTimer(c.cfg.readTimeout)
		defer pool.PutTimer(timer)
		timeoutC = timer.C
	}

	select {
	case in := <-c.msgs:
		return in.msg, in.err
	case <-timeoutC:
		return nil, transport.Wrap("padp read", ErrReadTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closed:
		return nil, transport.Wrap("padp read", ErrConnClosed)
	case <-c.readerDone:
		select {
		case in := <-c.msgs:
			return in.msg, in.err
		default:
		}

		return nil, c.readerFailure()
	}
}

// WriteMessage sends msg, split into fragments of at most MaxFragmentSize
// bytes. It returns once the last fragment has been acked.
//
// When a fragment stays unacknowledged after the retry limit, WriteMessage
// returns a transport.Error wrapping ErrSendFailure.
func (c *Conn) WriteMessage(ctx context.Context, msg []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.isClosed() {
		return transport.Wrap("padp send", ErrConnClosed)
	}

	total := len(msg)
	var longForm byte
	if total > 0xFFFF {
		longForm = FlagLongForm
	}

	for offset, first := 0, true; first || offset < total; first = false {
		n := min(MaxFragmentSize, total-offset)

		flags := longForm
		size := uint32(offset) //nolint:gosec
		if first {
			flags |= FlagFirst
			size = uint32(total) //nolint:gosec
		}
		if offset+n == total {
			flags |= FlagLast
		}

		c.xid = nextXID(c.xid)
		p := newPacket(TypeData, flags, c.xid, size, msg[offset:offset+n])
		if err := c.sendFragment(ctx, p); err != nil {
			return err
		}
		offset += n
	}

	c.metrics.incMsgSendCount()

	return nil
}

// Tickle sends a keep-alive packet. Tickles are not acked and do not advance
// the transaction id.
func (c *Conn) Tickle(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.isClosed() {
		return transport.Wrap("padp tickle", ErrConnClosed)
	}

	p := newPacket(TypeTickle, FlagFirst|FlagLast, c.xid, 0, nil)

	return transport.Wrap("padp tickle", c.writeFrame(p.Pack()))
}

// Close closes the connection and its stream. It is safe to call Close more
// than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.stream.Close()
	})

	return err
}

func (c *Conn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// readerFailure returns the error that stopped the reader goroutine. It must
// only be called after readerDone is closed.
func (c *Conn) readerFailure() error {
	if c.isClosed() {
		return transport.Wrap("padp read", ErrConnClosed)
	}

	return transport.Wrap("padp read", c.readErr)
}

func (c *Conn) sendFragment(ctx context.Context, p *Packet) error {
	frame := p.Pack()

	// acks left over from earlier fragments can never match again
	for drained := false; !drained; {
		select {
		case <-c.acks:
		default:
			drained = true
		}
	}

	for attempt := 0; ; attempt++ {
		if err := c.writeFrame(frame); err != nil {
			return transport.Wrap("padp write", err)
		}

		ack, err := c.waitAck(ctx, p.XID)
		if err == nil {
			if ack.Flags&FlagMemError != 0 {
				return ErrRemoteMemory
			}
			c.metrics.incFragmentSendCount()

			return nil
		}

		if !errors.Is(err, errAckTimeout) {
			return err
		}
		if attempt >= c.cfg.retryLimit {
			return &transport.Error{Op: "padp send", Err: ErrSendFailure}
		}

		c.metrics.incRetryCount()
		c.logger.Debug("padp: fragment retry",
			"xid", p.XID,
			"retry", attempt+1,
			"maxRetry", c.cfg.retryLimit,
		)
	}
}

func (c *Conn) waitAck(ctx context.Context, xid byte) (*Packet, error) {
	timer := pool.GetTimer(c.cfg.ackTimeout)
	defer pool.PutTimer(timer)

	for {
		select {
		case ack := <-c.acks:
			if ack.XID == xid {
				return ack, nil
			}
			c.logger.Debug("padp: stale ack ignored", "xid", ack.XID, "want", xid)
		case <-timer.C:
			return nil, errAckTimeout
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.closed:
			return nil, transport.Wrap("padp send", ErrConnClosed)
		case <-c.readerDone:
			return nil, c.readerFailure()
		}
	}
}

func (c *Conn) writeFrame(frame []byte) error {
	c.wireMu.Lock()
	defer c.wireMu.Unlock()

	for written := 0; written < len(frame); {
		n, err := c.stream.Write(frame[written:])
		written += n

		if err != nil {
			return err
		}
	}

	return nil
}

func (c *Conn) sendAck(p *Packet, extra byte) {
	ack := newPacket(TypeAck, p.Flags|extra, p.XID, p.Size, nil)
	if err := c.writeFrame(ack.Pack()); err != nil {
		c.logger.Debug("padp: failed to send ack", "xid", p.XID, "error", err)
	}
}

func (c *Conn) readLoop() {
	defer close(c.readerDone)

	for {
		frame, err := readFrame(c.reader)
		if err != nil {
			if errors.Is(err, ErrHeaderChecksum) || errors.Is(err, ErrMalformedPacket) {
				c.metrics.incCorruptFrameCount()
				c.logger.Debug("padp: dropped frame", "error", err)

				continue
			}
			c.readErr = err

			return
		}

		p, err := ParsePacket(frame)
		if err != nil {
			c.metrics.incCorruptFrameCount()
			c.logger.Debug("padp: dropped frame", "error", err)

			continue
		}

		if !c.handlePacket(p) {
			return
		}
	}
}

// handlePacket processes one valid packet; it returns false once the
// connection is closed.
func (c *Conn) handlePacket(p *Packet) bool {
	if p.SLPType != SLPTypePADP {
		c.logger.Debug("padp: ignored SLP packet", "type", p.SLPType)
		return true
	}

	switch p.Type {
	case TypeAck:
		select {
		case c.acks <- p:
		default:
			c.logger.Debug("padp: unexpected ack dropped", "xid", p.XID)
		}

	case TypeTickle:
		c.metrics.incTickleRecvCount()

	case TypeAbort:
		return c.deliver(inbound{err: ErrAborted})

	case TypeData:
		if c.asm.isDuplicate(p) {
			c.metrics.incDuplicateCount()
			c.sendAck(p, 0)

			return true
		}

		msg, err := c.asm.accept(p)
		if err != nil {
			switch {
			case errors.Is(err, ErrFragmentOutOfOrder):
				c.metrics.incOutOfOrderCount()
			case errors.Is(err, ErrMessageTooLarge):
				c.sendAck(p, FlagMemError)
			}
			c.logger.Debug("padp: rejected fragment", "xid", p.XID, "error", err)

			return true
		}

		c.metrics.incFragmentRecvCount()
		c.sendAck(p, 0)

		if msg != nil {
			c.metrics.incMsgRecvCount()
			return c.deliver(inbound{msg: msg})
		}

	default:
		c.logger.Debug("padp: unknown packet type", "type", p.Type)
	}

	return true
}

func (c *Conn) deliver(in inbound) bool {
	select {
	case c.msgs <- in:
		return true
	case <-c.closed:
		return false
	}
}
