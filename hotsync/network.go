package hotsync

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
)

// NetworkServer syncs devices connecting over TCP with NetSync framing.
// Every accepted socket is an independent, concurrent session.
type NetworkServer struct {
	baseServer

	mu       sync.Mutex
	listener net.Listener
	running  atomic.Bool
}

var _ Server = (*NetworkServer)(nil)

// NewNetworkServer creates a network server listening on the configured
// address, default ":14238".
func NewNetworkServer(opts ...ServerOption) (*NetworkServer, error) {
	cfg, err := NewServerConfig(opts...)
	if err != nil {
		return nil, err
	}

	return &NetworkServer{baseServer: newBaseServer("network", cfg)}, nil
}

// Listen opens the listener. Run calls it when it has not been called.
func (s *NetworkServer) Listen(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return nil
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.listenAddr)
	if err != nil {
		return fmt.Errorf("hotsync: listen %s: %w", s.cfg.listenAddr, err)
	}
	s.listener = ln
	s.logger.Info("hotsync: network server listening", "address", ln.Addr().String())

	return nil
}

// Addr returns the listener address, or nil before Listen.
func (s *NetworkServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}

	return s.listener.Addr()
}

// Run accepts sessions until ctx is done, then closes the listener and
// waits for the sessions in progress to end.
func (s *NetworkServer) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrServerRunning
	}
	defer s.running.Store(false)

	if err := s.Listen(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	var wg sync.WaitGroup
	defer func() {
		wg.Wait()
		s.mu.Lock()
		s.listener = nil
		s.mu.Unlock()
	}()

	for {
		sock, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.logger.Info("hotsync: network server stopped")
				return nil
			}
			s.logger.Warn("hotsync: accept failed", "error", err)
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.serveConn(ctx, sock)
		}()
	}
}

func (s *NetworkServer) serveConn(ctx context.Context, sock net.Conn) {
	remote := sock.RemoteAddr().String()

	conn, err := NewNetSyncConnection(TransportNetwork, sock, s.logger, s.cfg.netsyncOpts...)
	if err != nil {
		s.logger.Error("hotsync: netsync setup failed", "remote", remote, "error", err)
		_ = sock.Close()
		return
	}

	s.runSession(ctx, conn, remote, nil)
}
