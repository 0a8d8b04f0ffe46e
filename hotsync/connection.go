package hotsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Tavisco/palm-sync/cmp"
	"github.com/Tavisco/palm-sync/dlp"
	"github.com/Tavisco/palm-sync/logger"
	"github.com/Tavisco/palm-sync/netsync"
	"github.com/Tavisco/palm-sync/padp"
	"github.com/Tavisco/palm-sync/transport"
)

// Sentinel errors for sync connections and servers.
var (
	ErrNotStarted       = errors.New("hotsync: connection not started")
	ErrAlreadyStarted   = errors.New("hotsync: connection already started")
	ErrEnded            = errors.New("hotsync: connection ended")
	ErrServerRunning    = errors.New("hotsync: server already running")
	ErrInvalidServerCfg = errors.New("hotsync: invalid server config")
	ErrConduitPanic     = errors.New("hotsync: conduit panicked")
)

// Transport names the kind of link a connection runs over.
type Transport string

const (
	TransportSerial  Transport = "serial"
	TransportNetwork Transport = "network"
	TransportUSB     Transport = "usb"
)

// Session is what a conduit sees of a started connection.
type Session interface {
	dlp.Executor
	// ID is the unique id of the session.
	ID() string
	// DLP returns the typed command client of the session.
	DLP() *dlp.Client
	// UserInfo returns the device owner read when the session started.
	UserInfo() *dlp.UserInfo
	// SysInfo returns the device versions read when the session started.
	SysInfo() *dlp.SysInfo
}

// Connection is one HotSync session over a stream.
//
// The lifecycle is DoHandshake, Start, any number of Execute calls, then
// End. End is safe in every state, may be called more than once and always
// closes the stream.
type Connection struct {
	id        uuid.UUID
	transport Transport
	framer    transport.Framer
	dlpConn   *dlp.Conn
	client    *dlp.Client
	handshake func(ctx context.Context) error
	logger    logger.Logger

	state      atomicConnState
	endTimeout time.Duration
	startedAt  time.Time

	mu       sync.Mutex
	params   cmp.Params
	userInfo *dlp.UserInfo
	sysInfo  *dlp.SysInfo

	endOnce sync.Once
	endErr  error
}

var _ Session = (*Connection)(nil)

func newConnection(kind Transport, framer transport.Framer, l logger.Logger) *Connection {
	if l == nil {
		l = logger.GetLogger()
	}
	id := uuid.New()
	l = l.With("session", id.String(), "transport", string(kind))

	c := &Connection{
		id:         id,
		transport:  kind,
		framer:     framer,
		dlpConn:    dlp.NewConn(framer, l),
		logger:     l,
		endTimeout: DefaultEndTimeout,
	}
	c.client = dlp.NewClient(c)

	return c
}

// NewPADPConnection creates a connection speaking CMP and DLP over PADP,
// negotiating targetRate during the handshake. A nil cfg uses the PADP
// defaults.
func NewPADPConnection(kind Transport, stream transport.Stream, cfg *padp.ConnectionConfig, targetRate uint32, l logger.Logger) *Connection {
	conn := padp.NewConn(stream, cfg)
	c := newConnection(kind, conn, l)
	c.handshake = func(ctx context.Context) error {
		params, err := cmp.Handshake(ctx, conn, targetRate)
		if err != nil {
			return err
		}
		c.mu.Lock()
		c.params = params
		c.mu.Unlock()

		return nil
	}

	return c
}

// NewNetSyncConnection creates a connection speaking DLP over NetSync. Its
// handshake exchanges nothing.
func NewNetSyncConnection(kind Transport, stream transport.Stream, l logger.Logger, opts ...netsync.ConnOption) (*Connection, error) {
	if l != nil {
		opts = append([]netsync.ConnOption{netsync.WithLogger(l)}, opts...)
	}
	conn, err := netsync.NewConn(stream, opts...)
	if err != nil {
		return nil, err
	}

	c := newConnection(kind, conn, l)
	c.handshake = func(context.Context) error { return nil }

	return c, nil
}

// ID returns the session id.
func (c *Connection) ID() string { return c.id.String() }

// Transport returns the kind of link of the connection.
func (c *Connection) Transport() Transport { return c.transport }

// State returns the lifecycle state.
func (c *Connection) State() ConnState { return c.state.Get() }

// DLP returns the typed command client. Its calls fail with ErrNotStarted
// until Start has succeeded.
func (c *Connection) DLP() *dlp.Client { return c.client }

// Metrics returns the DLP metrics of the connection.
func (c *Connection) Metrics() *dlp.ConnectionMetrics { return c.dlpConn.Metrics() }

// Params returns the handshake result. It is zero for NetSync connections.
func (c *Connection) Params() cmp.Params {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.params
}

// UserInfo returns the device owner read by Start.
func (c *Connection) UserInfo() *dlp.UserInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.userInfo
}

// SysInfo returns the device versions read by Start.
func (c *Connection) SysInfo() *dlp.SysInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.sysInfo
}

// DoHandshake runs the link handshake. It may be called once, on a new
// connection.
func (c *Connection) DoHandshake(ctx context.Context) error {
	if !c.state.ToHandshaking() {
		return c.stateError()
	}

	c.logger.Debug("hotsync: starting handshake")
	if err := c.handshake(ctx); err != nil {
		return err
	}
	if !c.state.ToReady() {
		return ErrEnded
	}
	c.logger.Debug("hotsync: handshake complete", "params", c.Params())

	return nil
}

// Start opens the DLP session: it reads the device versions and owner and
// enables Execute.
func (c *Connection) Start(ctx context.Context) error {
	if c.state.Get() != ReadyState {
		return c.stateError()
	}

	raw := dlp.NewClient(c.dlpConn)
	sysInfo, err := raw.ReadSysInfo(ctx)
	if err != nil {
		return fmt.Errorf("hotsync: start: %w", err)
	}
	userInfo, err := raw.ReadUserInfo(ctx)
	if err != nil {
		return fmt.Errorf("hotsync: start: %w", err)
	}

	c.mu.Lock()
	c.sysInfo = sysInfo
	c.userInfo = userInfo
	c.startedAt = time.Now()
	c.mu.Unlock()

	if !c.state.ToStarted() {
		return ErrEnded
	}
	c.logger.Info("hotsync: session started", "user", userInfo.UserName, "rom", fmt.Sprintf("0x%08X", sysInfo.ROMVersion))

	return nil
}

// Execute runs one DLP request. It fails with ErrNotStarted before Start
// and with ErrEnded after End.
func (c *Connection) Execute(ctx context.Context, req *dlp.Request) (*dlp.Response, error) {
	switch c.state.Get() {
	case StartedState:
	case EndedState:
		return nil, ErrEnded
	default:
		return nil, ErrNotStarted
	}

	return c.dlpConn.Execute(ctx, req)
}

// End finishes the session. A started session is told EndOfSync, best
// effort and bounded by the end timeout; a request still in flight is
// abandoned. The stream is always closed.
func (c *Connection) End() error {
	c.endOnce.Do(func() {
		prev := c.state.ToEnded()
		if prev == StartedState {
			ctx, cancel := context.WithTimeout(context.Background(), c.endTimeout)
			if err := dlp.NewClient(c.dlpConn).EndOfSync(ctx, dlp.TermNormal); err != nil {
				c.logger.Debug("hotsync: end of sync not delivered", "error", err)
			}
			cancel()
		}

		c.endErr = c.framer.Close()
		c.logger.Debug("hotsync: session ended", "state", prev)
	})

	return c.endErr
}

func (c *Connection) stateError() error {
	switch c.state.Get() {
	case EndedState:
		return ErrEnded
	case StartedState:
		return ErrAlreadyStarted
	default:
		return fmt.Errorf("hotsync: invalid state %s", c.state.Get())
	}
}
