package hotsync

import (
	"context"
	"fmt"
	"time"

	"github.com/Tavisco/palm-sync/logger"
	"github.com/Tavisco/palm-sync/netsync"
	"github.com/Tavisco/palm-sync/padp"
	"github.com/Tavisco/palm-sync/usb"
)

// Default server parameters.
const (
	DefaultSerialBaudRate = 115200
	DefaultListenAddress  = ":14238"
	DefaultPollInterval   = 100 * time.Millisecond
	DefaultEndTimeout     = 5 * time.Second
	DefaultRetryDelay     = time.Second
)

// Range limits for server parameters.
const (
	MinPollInterval = 10 * time.Millisecond
	MaxPollInterval = time.Minute

	MaxEndTimeout = time.Minute
	MaxRetryDelay = time.Minute
)

// supportedBaudRates are the serial rates a Palm device may be switched to.
var supportedBaudRates = []uint32{9600, 19200, 38400, 57600, 115200, 230400}

// ServerConfig holds the configuration shared by the sync servers.
type ServerConfig struct {
	conduit      Conduit
	handlers     []EventHandler
	baudRate     uint32
	listenAddr   string
	pollInterval time.Duration
	endTimeout   time.Duration
	retryDelay   time.Duration
	padpCfg      *padp.ConnectionConfig
	netsyncOpts  []netsync.ConnOption
	usbDevices   []usb.DeviceConfig

	logger logger.Logger
}

// NewServerConfig creates a server configuration with defaults, then
// applies opts in order.
func NewServerConfig(opts ...ServerOption) (*ServerConfig, error) {
	cfg := &ServerConfig{
		conduit:      ConduitFunc(func(context.Context, Session) error { return nil }),
		baudRate:     DefaultSerialBaudRate,
		listenAddr:   DefaultListenAddress,
		pollInterval: DefaultPollInterval,
		endTimeout:   DefaultEndTimeout,
		retryDelay:   DefaultRetryDelay,
		usbDevices:   usb.DefaultDevices,
		logger:       logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// BaudRate returns the serial rate requested during the handshake.
func (cfg *ServerConfig) BaudRate() uint32 { return cfg.baudRate }

// ListenAddress returns the network server listen address.
func (cfg *ServerConfig) ListenAddress() string { return cfg.listenAddr }

// PollInterval returns the USB device poll interval.
func (cfg *ServerConfig) PollInterval() time.Duration { return cfg.pollInterval }

// USBDevices returns the USB device table.
func (cfg *ServerConfig) USBDevices() []usb.DeviceConfig { return cfg.usbDevices }

// ServerOption configures a ServerConfig.
type ServerOption interface {
	apply(cfg *ServerConfig) error
}

type serverOptFunc func(*ServerConfig) error

func (f serverOptFunc) apply(cfg *ServerConfig) error { return f(cfg) }

// WithConduit sets the sync logic run for every started session.
func WithConduit(c Conduit) ServerOption {
	return serverOptFunc(func(cfg *ServerConfig) error {
		if c == nil {
			return fmt.Errorf("%w: nil conduit", ErrInvalidServerCfg)
		}
		cfg.conduit = c

		return nil
	})
}

// WithEventHandler registers h to receive connect and disconnect events.
// Handlers run on the session goroutine and must not block.
func WithEventHandler(h EventHandler) ServerOption {
	return serverOptFunc(func(cfg *ServerConfig) error {
		if h == nil {
			return fmt.Errorf("%w: nil event handler", ErrInvalidServerCfg)
		}
		cfg.handlers = append(cfg.handlers, h)

		return nil
	})
}

// WithSerialBaudRate sets the rate requested from serial devices, default 115200.
func WithSerialBaudRate(rate uint32) ServerOption {
	return serverOptFunc(func(cfg *ServerConfig) error {
		for _, r := range supportedBaudRates {
			if r == rate {
				cfg.baudRate = rate
				return nil
			}
		}

		return fmt.Errorf("%w: unsupported baud rate %d", ErrInvalidServerCfg, rate)
	})
}

// WithListenAddress sets the network server address, default ":14238".
func WithListenAddress(addr string) ServerOption {
	return serverOptFunc(func(cfg *ServerConfig) error {
		if addr == "" {
			return fmt.Errorf("%w: empty listen address", ErrInvalidServerCfg)
		}
		cfg.listenAddr = addr

		return nil
	})
}

// WithPollInterval sets the USB device poll interval, range 10ms to 1m.
func WithPollInterval(d time.Duration) ServerOption {
	return serverOptFunc(func(cfg *ServerConfig) error {
		if d < MinPollInterval || d > MaxPollInterval {
			return fmt.Errorf("%w: poll interval %v out of range [%v, %v]", ErrInvalidServerCfg, d, MinPollInterval, MaxPollInterval)
		}
		cfg.pollInterval = d

		return nil
	})
}

// WithEndTimeout bounds the EndOfSync exchange of a finishing session.
func WithEndTimeout(d time.Duration) ServerOption {
	return serverOptFunc(func(cfg *ServerConfig) error {
		if d <= 0 || d > MaxEndTimeout {
			return fmt.Errorf("%w: end timeout %v out of range (0, %v]", ErrInvalidServerCfg, d, MaxEndTimeout)
		}
		cfg.endTimeout = d

		return nil
	})
}

// WithRetryDelay sets the pause after a serial port failure.
func WithRetryDelay(d time.Duration) ServerOption {
	return serverOptFunc(func(cfg *ServerConfig) error {
		if d < 0 || d > MaxRetryDelay {
			return fmt.Errorf("%w: retry delay %v out of range [0, %v]", ErrInvalidServerCfg, d, MaxRetryDelay)
		}
		cfg.retryDelay = d

		return nil
	})
}

// WithPADPConfig sets the PADP configuration of serial and USB sessions.
func WithPADPConfig(pc *padp.ConnectionConfig) ServerOption {
	return serverOptFunc(func(cfg *ServerConfig) error {
		cfg.padpCfg = pc
		return nil
	})
}

// WithNetSyncOptions sets the NetSync options of network and USB sessions.
func WithNetSyncOptions(opts ...netsync.ConnOption) ServerOption {
	return serverOptFunc(func(cfg *ServerConfig) error {
		cfg.netsyncOpts = append(cfg.netsyncOpts, opts...)
		return nil
	})
}

// WithUSBDevices replaces the USB device table.
func WithUSBDevices(devices ...usb.DeviceConfig) ServerOption {
	return serverOptFunc(func(cfg *ServerConfig) error {
		if len(devices) == 0 {
			return fmt.Errorf("%w: empty USB device table", ErrInvalidServerCfg)
		}
		cfg.usbDevices = devices

		return nil
	})
}

// WithLogger sets the logger of the servers and their sessions.
func WithLogger(l logger.Logger) ServerOption {
	return serverOptFunc(func(cfg *ServerConfig) error {
		if l == nil {
			return fmt.Errorf("%w: nil logger", ErrInvalidServerCfg)
		}
		cfg.logger = l

		return nil
	})
}
