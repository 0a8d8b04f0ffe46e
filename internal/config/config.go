// Package config loads the hotsyncd configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/Tavisco/palm-sync/hotsync"
	"github.com/Tavisco/palm-sync/logger"
	"github.com/Tavisco/palm-sync/padp"
	"github.com/Tavisco/palm-sync/usb"
)

// ErrUnknownFormat is returned for configuration files that are neither
// TOML nor YAML.
var ErrUnknownFormat = errors.New("config: unknown file format")

// Duration is a time.Duration written as a string such as "1.5s".
type Duration time.Duration

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)

	return nil
}

// Config is the top-level daemon configuration.
type Config struct {
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `toml:"log_level" yaml:"log_level"`
	// DataDir holds the sqlite database.
	DataDir string `toml:"data_dir" yaml:"data_dir"`
	// MetricsAddr serves /metrics when set (e.g. "127.0.0.1:9238").
	MetricsAddr string `toml:"metrics_addr" yaml:"metrics_addr"`
	// EndTimeout bounds the end-of-sync request of each session.
	EndTimeout Duration `toml:"end_timeout" yaml:"end_timeout"`

	Serial  SerialConfig  `toml:"serial" yaml:"serial"`
	Network NetworkConfig `toml:"network" yaml:"network"`
	USB     USBConfig     `toml:"usb" yaml:"usb"`
	PADP    PADPConfig    `toml:"padp" yaml:"padp"`
}

// SerialConfig enables the serial server when Device is set.
type SerialConfig struct {
	Device   string `toml:"device" yaml:"device"`
	BaudRate uint32 `toml:"baud_rate" yaml:"baud_rate"`
}

// NetworkConfig configures the NetSync TCP server.
type NetworkConfig struct {
	Enabled bool   `toml:"enabled" yaml:"enabled"`
	Listen  string `toml:"listen" yaml:"listen"`
}

// USBConfig configures the USB server. An empty device table uses
// usb.DefaultDevices.
type USBConfig struct {
	Enabled      bool               `toml:"enabled" yaml:"enabled"`
	PollInterval Duration           `toml:"poll_interval" yaml:"poll_interval"`
	Devices      []usb.DeviceConfig `toml:"devices" yaml:"devices"`
}

// PADPConfig overrides PADP timeouts. Zero values keep the defaults.
type PADPConfig struct {
	AckTimeout  Duration `toml:"ack_timeout" yaml:"ack_timeout"`
	ReadTimeout Duration `toml:"read_timeout" yaml:"read_timeout"`
	RetryLimit  int      `toml:"retry_limit" yaml:"retry_limit"`
}

// Default returns the configuration used without a file: the network
// server on the NetSync port and the USB server with the built-in device
// table.
func Default() *Config {
	return &Config{
		LogLevel:   "info",
		DataDir:    defaultDataDir(),
		EndTimeout: Duration(hotsync.DefaultEndTimeout),
		Serial:     SerialConfig{BaudRate: hotsync.DefaultSerialBaudRate},
		Network:    NetworkConfig{Enabled: true, Listen: hotsync.DefaultListenAddress},
		USB:        USBConfig{Enabled: true, PollInterval: Duration(hotsync.DefaultPollInterval)},
	}
}

func defaultDataDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".palm-sync")
	}

	return ".palm-sync"
}

// Load reads the file at path on top of Default, applies environment
// variable overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		if err := decode(path, data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	if v := os.Getenv("HOTSYNC_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("HOTSYNC_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("HOTSYNC_SERIAL_DEVICE"); v != "" {
		cfg.Serial.Device = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		_, err := toml.NewDecoder(bytes.NewReader(data)).Decode(cfg)
		return err
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		return dec.Decode(cfg)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, filepath.Ext(path))
	}
}

// Validate checks the values the server options do not check themselves.
func (c *Config) Validate() error {
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: log_level: %w", err)
	}
	if c.DataDir == "" {
		return errors.New("config: data_dir is empty")
	}
	if c.Network.Enabled && c.Network.Listen == "" {
		return errors.New("config: network.listen is empty")
	}
	for _, d := range c.USB.Devices {
		if d.VendorID == 0 {
			return fmt.Errorf("config: usb device %q has no vendor_id", d.Label)
		}
	}

	return nil
}

// Level returns the parsed log level.
func (c *Config) Level() logger.Level {
	lvl, _ := logger.ParseLevel(c.LogLevel)
	return lvl
}

// PADPOptions returns the PADP options for the configured overrides.
func (c *Config) PADPOptions(l logger.Logger) []padp.ConnOption {
	opts := []padp.ConnOption{padp.WithLogger(l)}
	if c.PADP.AckTimeout > 0 {
		opts = append(opts, padp.WithAckTimeout(time.Duration(c.PADP.AckTimeout)))
	}
	if c.PADP.ReadTimeout > 0 {
		opts = append(opts, padp.WithReadTimeout(time.Duration(c.PADP.ReadTimeout)))
	}
	if c.PADP.RetryLimit > 0 {
		opts = append(opts, padp.WithRetryLimit(c.PADP.RetryLimit))
	}

	return opts
}

// ServerOptions returns the hotsync options shared by every server.
func (c *Config) ServerOptions(l logger.Logger) ([]hotsync.ServerOption, error) {
	padpCfg, err := padp.NewConnectionConfig(c.PADPOptions(l)...)
	if err != nil {
		return nil, fmt.Errorf("config: padp: %w", err)
	}

	opts := []hotsync.ServerOption{
		hotsync.WithLogger(l),
		hotsync.WithPADPConfig(padpCfg),
	}
	if c.Serial.BaudRate > 0 {
		opts = append(opts, hotsync.WithSerialBaudRate(c.Serial.BaudRate))
	}
	if c.Network.Listen != "" {
		opts = append(opts, hotsync.WithListenAddress(c.Network.Listen))
	}
	if c.USB.PollInterval > 0 {
		opts = append(opts, hotsync.WithPollInterval(time.Duration(c.USB.PollInterval)))
	}
	if len(c.USB.Devices) > 0 {
		opts = append(opts, hotsync.WithUSBDevices(c.USB.Devices...))
	}
	if c.EndTimeout > 0 {
		opts = append(opts, hotsync.WithEndTimeout(time.Duration(c.EndTimeout)))
	}

	return opts, nil
}
