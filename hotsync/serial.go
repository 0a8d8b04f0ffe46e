package hotsync

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.bug.st/serial"

	"github.com/Tavisco/palm-sync/cmp"
	"github.com/Tavisco/palm-sync/transport"
)

// SerialPort is an open serial port whose rate can be switched.
type SerialPort interface {
	transport.Stream
	SetBaudRate(rate int) error
}

// PortOpener opens a serial device at the given rate.
type PortOpener func(device string, rate int) (SerialPort, error)

type bugSerialPort struct {
	serial.Port
}

func (p bugSerialPort) SetBaudRate(rate int) error {
	return p.SetMode(&serial.Mode{BaudRate: rate})
}

// OpenSerialPort opens device at rate, 8N1.
func OpenSerialPort(device string, rate int) (SerialPort, error) {
	port, err := serial.Open(device, &serial.Mode{
		BaudRate: rate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("hotsync: open %s: %w", device, err)
	}

	return bugSerialPort{Port: port}, nil
}

// SerialServer syncs devices on a serial port, one session at a time.
//
// Each session opens the port at 9600 baud, runs the CMP handshake over
// PADP and only then switches to the negotiated rate.
type SerialServer struct {
	baseServer
	device  string
	opener  PortOpener
	running atomic.Bool
}

var _ Server = (*SerialServer)(nil)

// NewSerialServer creates a server for the serial device path.
func NewSerialServer(device string, opts ...ServerOption) (*SerialServer, error) {
	if device == "" {
		return nil, fmt.Errorf("%w: empty serial device", ErrInvalidServerCfg)
	}
	cfg, err := NewServerConfig(opts...)
	if err != nil {
		return nil, err
	}

	return &SerialServer{
		baseServer: newBaseServer("serial", cfg),
		device:     device,
		opener:     OpenSerialPort,
	}, nil
}

// SetPortOpener replaces the function opening the serial device. It must
// be called before Run.
func (s *SerialServer) SetPortOpener(o PortOpener) {
	s.opener = o
}

// Run serves sessions until ctx is done. Port failures are logged and the
// port is reopened after the retry delay.
func (s *SerialServer) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrServerRunning
	}
	defer s.running.Store(false)

	s.logger.Info("hotsync: serial server started", "device", s.device, "baudRate", s.cfg.baudRate)
	for ctx.Err() == nil {
		port, err := s.opener(s.device, cmp.InitialBaudRate)
		if err != nil {
			s.logger.Error("hotsync: serial port unavailable", "device", s.device, "error", err)
			sleep(ctx, s.cfg.retryDelay)
			continue
		}

		conn := NewPADPConnection(TransportSerial, port, s.cfg.padpCfg, s.cfg.baudRate, s.logger)
		s.runSession(ctx, conn, s.device, func() error {
			rate := conn.Params().BaudRate
			if rate == cmp.InitialBaudRate {
				return nil
			}
			s.logger.Debug("hotsync: switching baud rate", "baudRate", rate)
			if err := port.SetBaudRate(int(rate)); err != nil {
				return transport.Wrap("serial set rate", err)
			}

			return nil
		})
	}
	s.logger.Info("hotsync: serial server stopped", "device", s.device)

	return nil
}
