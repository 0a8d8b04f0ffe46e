package padp

import (
	"errors"
	"fmt"
	"time"

	"github.com/Tavisco/palm-sync/logger"
)

// Default PADP parameters.
const (
	DefaultAckTimeout     = 2 * time.Second  // wait for the ack of one fragment
	DefaultReadTimeout    = 30 * time.Second // wait for the next message
	DefaultRetryLimit     = 10               // retransmissions per fragment
	DefaultMaxMessageSize = 1 << 20          // largest reassembled message
	DefaultQueueSize      = 8                // received messages buffered by the reader
)

// Range limits for the PADP parameters.
const (
	MinAckTimeout = 10 * time.Millisecond
	MaxAckTimeout = 60 * time.Second

	MaxReadTimeout = 10 * time.Minute

	MaxRetryLimit = 100

	MinMaxMessageSize = MaxFragmentSize
	MaxMaxMessageSize = 1 << 24
)

// ConnectionConfig holds the configuration of a PADP connection.
type ConnectionConfig struct {
	ackTimeout     time.Duration
	readTimeout    time.Duration
	retryLimit     int
	maxMessageSize int
	queueSize      int

	logger logger.Logger
}

// NewConnectionConfig creates a PADP configuration with defaults, then
// applies opts in order.
func NewConnectionConfig(opts ...ConnOption) (*ConnectionConfig, error) {
	cfg := &ConnectionConfig{
		ackTimeout:     DefaultAckTimeout,
		readTimeout:    DefaultReadTimeout,
		retryLimit:     DefaultRetryLimit,
		maxMessageSize: DefaultMaxMessageSize,
		queueSize:      DefaultQueueSize,
		logger:         logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// AckTimeout returns how long a fragment waits for its ack.
func (cfg *ConnectionConfig) AckTimeout() time.Duration { return cfg.ackTimeout }

// ReadTimeout returns how long a read waits for the next message. Zero
// means the read waits until its context is done.
func (cfg *ConnectionConfig) ReadTimeout() time.Duration { return cfg.readTimeout }

// RetryLimit returns the number of retransmissions per fragment.
func (cfg *ConnectionConfig) RetryLimit() int { return cfg.retryLimit }

// MaxMessageSize returns the largest message accepted from the remote end.
func (cfg *ConnectionConfig) MaxMessageSize() int { return cfg.maxMessageSize }

// GetLogger returns the configured logger.
func (cfg *ConnectionConfig) GetLogger() logger.Logger { return cfg.logger }

// ConnOption is a functional option for configuring a ConnectionConfig.
type ConnOption interface {
	apply(*ConnectionConfig) error
}

type connOptFunc func(*ConnectionConfig) error

func (f connOptFunc) apply(cfg *ConnectionConfig) error { return f(cfg) }

// WithAckTimeout sets the ack timeout of one fragment. Range: 10ms–60s.
func WithAckTimeout(d time.Duration) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if d < MinAckTimeout || d > MaxAckTimeout {
			return fmt.Errorf("padp: ack timeout %v out of range [%v, %v]", d, MinAckTimeout, MaxAckTimeout)
		}
		cfg.ackTimeout = d

		return nil
	})
}

// WithReadTimeout sets the read timeout; zero disables it. Range: 0–10m.
func WithReadTimeout(d time.Duration) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if d < 0 || d > MaxReadTimeout {
			return fmt.Errorf("padp: read timeout %v out of range [0, %v]", d, MaxReadTimeout)
		}
		cfg.readTimeout = d

		return nil
	})
}

// WithRetryLimit sets the number of retransmissions per fragment. Range: 0–100.
func WithRetryLimit(n int) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if n < 0 || n > MaxRetryLimit {
			return fmt.Errorf("padp: retry limit %d out of range [0, %d]", n, MaxRetryLimit)
		}
		cfg.retryLimit = n

		return nil
	})
}

// WithMaxMessageSize sets the largest message accepted from the remote end.
func WithMaxMessageSize(n int) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if n < MinMaxMessageSize || n > MaxMaxMessageSize {
			return fmt.Errorf("padp: max message size %d out of range [%d, %d]", n, MinMaxMessageSize, MaxMaxMessageSize)
		}
		cfg.maxMessageSize = n

		return nil
	})
}

// WithLogger sets the logger of the connection.
func WithLogger(l logger.Logger) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if l == nil {
			return errors.New("padp: logger must not be nil")
		}
		cfg.logger = l

		return nil
	})
}
