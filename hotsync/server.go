package hotsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/errgroup"

	"github.com/Tavisco/palm-sync/internal/pool"
	"github.com/Tavisco/palm-sync/logger"
	"github.com/Tavisco/palm-sync/padp"
)

// Server accepts HotSync sessions until its context is done.
type Server interface {
	// Name identifies the server in logs and metrics.
	Name() string
	// Run serves sessions until ctx is done. It returns nil after a
	// cancellation and an error when the server cannot serve at all.
	Run(ctx context.Context) error
	// Metrics returns the server metrics.
	Metrics() *ServerMetrics
}

// Run runs every server until ctx is done or one of them fails, in which
// case the others are stopped.
func Run(ctx context.Context, servers ...Server) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, s := range servers {
		g.Go(func() error { return s.Run(ctx) })
	}

	return g.Wait()
}

// baseServer holds what every server needs to drive sessions.
type baseServer struct {
	name     string
	cfg      *ServerConfig
	logger   logger.Logger
	metrics  ServerMetrics
	sessions *xsync.MapOf[string, *Connection]
}

func newBaseServer(name string, cfg *ServerConfig) baseServer {
	return baseServer{
		name:     name,
		cfg:      cfg,
		logger:   cfg.logger.With("server", name),
		sessions: xsync.NewMapOf[string, *Connection](),
	}
}

// Name returns the server name.
func (s *baseServer) Name() string { return s.name }

// Metrics returns the server metrics.
func (s *baseServer) Metrics() *ServerMetrics { return &s.metrics }

// Sessions returns the ids of the sessions in progress.
func (s *baseServer) Sessions() []string {
	ids := make([]string, 0, s.sessions.Size())
	s.sessions.Range(func(id string, _ *Connection) bool {
		ids = append(ids, id)
		return true
	})

	return ids
}

func (s *baseServer) emit(ev Event) {
	for _, h := range s.cfg.handlers {
		h(ev)
	}
}

// runSession drives conn through handshake, start, conduit and end. It is
// the boundary where session errors stop: they are logged, counted and
// reported through the disconnect event, never returned.
//
// afterHandshake, when set, runs between handshake and start; the serial
// server switches the port rate there.
func (s *baseServer) runSession(ctx context.Context, conn *Connection, device string, afterHandshake func() error) {
	conn.endTimeout = s.cfg.endTimeout
	stop := context.AfterFunc(ctx, func() { _ = conn.End() })
	defer stop()

	if err := conn.DoHandshake(ctx); err != nil {
		_ = conn.End()
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, padp.ErrReadTimeout) {
			s.logger.Debug("hotsync: no device", "device", device)
			return
		}
		s.metrics.incHandshakeErrCount()
		s.logger.Warn("hotsync: handshake failed", "device", device, "error", err)

		return
	}

	start := time.Now()
	s.metrics.incSessionCount()
	s.sessions.Store(conn.ID(), conn)
	s.emit(Event{Type: ConnectEvent, SessionID: conn.ID(), Transport: conn.Transport(), Device: device, Time: start})

	err := s.sync(ctx, conn, afterHandshake)
	endErr := conn.End()
	if err == nil && endErr != nil && !errors.Is(endErr, padp.ErrConnClosed) {
		s.logger.Debug("hotsync: close failed", "session", conn.ID(), "error", endErr)
	}

	s.sessions.Delete(conn.ID())
	s.metrics.decActiveSessions()
	if err != nil {
		s.metrics.incSessionErrCount()
		s.logger.Error("hotsync: session failed", "session", conn.ID(), "device", device, "error", err)
	} else {
		s.metrics.incSessionSuccessCount()
		s.logger.Info("hotsync: session complete", "session", conn.ID(), "device", device, "elapsed", time.Since(start))
	}

	s.emit(Event{
		Type:      DisconnectEvent,
		SessionID: conn.ID(),
		Transport: conn.Transport(),
		Device:    device,
		Time:      time.Now(),
		Duration:  time.Since(start),
		Err:       err,
	})
}

// sync runs the session body. A panic below it fails only this session.
func (s *baseServer) sync(ctx context.Context, conn *Connection, afterHandshake func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("hotsync: panic in session", "session", conn.ID(), "panic", r)
			err = fmt.Errorf("%w: %v", ErrConduitPanic, r)
		}
	}()

	if afterHandshake != nil {
		if err := afterHandshake(); err != nil {
			return err
		}
	}
	if err := conn.Start(ctx); err != nil {
		return err
	}

	return s.cfg.conduit.Run(ctx, conn)
}

// sleep waits for d or until ctx is done, reporting whether d elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := pool.GetTimer(d)
	defer pool.PutTimer(timer)

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
