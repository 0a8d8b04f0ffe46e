package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Tavisco/palm-sync/hotsync"
	"github.com/Tavisco/palm-sync/logger"
	"github.com/Tavisco/palm-sync/padp"
	"github.com/Tavisco/palm-sync/usb"
)

const tomlConfig = `
log_level = "debug"
data_dir = "/var/lib/palm-sync"
metrics_addr = "127.0.0.1:9238"
end_timeout = "3s"

[serial]
device = "/dev/ttyUSB0"
baud_rate = 57600

[network]
enabled = false

[usb]
enabled = true
poll_interval = "250ms"

[[usb.devices]]
vendor_id = 0x0830
product_id = 0x0061
label = "Zire 71"
family = "generic-ext"
protocol = "netsync"

[[usb.devices]]
vendor_id = 0x082D
product_id = 0x0100
label = "Visor"
family = "visor"

[padp]
ack_timeout = "500ms"
retry_limit = 4
`

const yamlConfig = `
log_level: warn
data_dir: /tmp/palm
network:
  enabled: true
  listen: "127.0.0.1:14238"
usb:
  enabled: false
  devices:
    - vendor_id: 0x054C
      product_id: 0x0066
      label: CLIE
      family: sony-clie
      protocol: padp
padp:
  read_timeout: 1m
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoad_TOML(t *testing.T) {
	require := require.New(t)

	cfg, err := Load(writeFile(t, "hotsyncd.toml", tomlConfig))
	require.NoError(err)

	require.Equal(logger.DebugLevel, cfg.Level())
	require.Equal("/var/lib/palm-sync", cfg.DataDir)
	require.Equal("127.0.0.1:9238", cfg.MetricsAddr)
	require.Equal(Duration(3*time.Second), cfg.EndTimeout)
	require.Equal("/dev/ttyUSB0", cfg.Serial.Device)
	require.Equal(uint32(57600), cfg.Serial.BaudRate)
	require.False(cfg.Network.Enabled)
	require.Equal(hotsync.DefaultListenAddress, cfg.Network.Listen)
	require.Equal(Duration(250*time.Millisecond), cfg.USB.PollInterval)

	require.Equal([]usb.DeviceConfig{
		{VendorID: 0x0830, ProductID: 0x0061, Label: "Zire 71", Family: usb.FamilyGenericExt, Protocol: usb.ProtocolNetSync},
		{VendorID: 0x082D, ProductID: 0x0100, Label: "Visor", Family: usb.FamilyVisor, Protocol: usb.ProtocolPADP},
	}, cfg.USB.Devices)

	require.Equal(Duration(500*time.Millisecond), cfg.PADP.AckTimeout)
	require.Equal(4, cfg.PADP.RetryLimit)
}

func TestLoad_YAML(t *testing.T) {
	require := require.New(t)

	cfg, err := Load(writeFile(t, "hotsyncd.yaml", yamlConfig))
	require.NoError(err)

	require.Equal(logger.WarnLevel, cfg.Level())
	require.Equal("/tmp/palm", cfg.DataDir)
	require.True(cfg.Network.Enabled)
	require.Equal("127.0.0.1:14238", cfg.Network.Listen)
	require.False(cfg.USB.Enabled)
	require.Equal(Duration(hotsync.DefaultPollInterval), cfg.USB.PollInterval)
	require.Len(cfg.USB.Devices, 1)
	require.Equal(usb.FamilySonyClie, cfg.USB.Devices[0].Family)
	require.Equal(uint16(0x054C), cfg.USB.Devices[0].VendorID)
	require.Equal(Duration(time.Minute), cfg.PADP.ReadTimeout)
	require.Equal(uint32(hotsync.DefaultSerialBaudRate), cfg.Serial.BaudRate)
}

func TestLoad_Defaults(t *testing.T) {
	require := require.New(t)

	cfg, err := Load("")
	require.NoError(err)
	require.Equal(logger.InfoLevel, cfg.Level())
	require.True(cfg.Network.Enabled)
	require.True(cfg.USB.Enabled)
	require.Empty(cfg.Serial.Device)
	require.NotEmpty(cfg.DataDir)
}

func TestLoad_EnvOverrides(t *testing.T) {
	require := require.New(t)

	t.Setenv("HOTSYNC_LOG_LEVEL", "error")
	t.Setenv("HOTSYNC_DATA_DIR", "/srv/palm")
	t.Setenv("HOTSYNC_SERIAL_DEVICE", "/dev/ttyS1")

	cfg, err := Load(writeFile(t, "hotsyncd.toml", tomlConfig))
	require.NoError(err)
	require.Equal(logger.ErrorLevel, cfg.Level())
	require.Equal("/srv/palm", cfg.DataDir)
	require.Equal("/dev/ttyS1", cfg.Serial.Device)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		errIs   error
	}{
		{name: "unknown extension", file: "hotsyncd.ini", content: "x=1", errIs: ErrUnknownFormat},
		{name: "bad toml", file: "hotsyncd.toml", content: "log_level = "},
		{name: "unknown yaml field", file: "hotsyncd.yml", content: "colour: blue\n"},
		{name: "bad level", file: "hotsyncd.toml", content: `log_level = "loud"`},
		{name: "bad family", file: "hotsyncd.toml", content: "[[usb.devices]]\nvendor_id = 1\nfamily = \"pilot\"\n"},
		{name: "bad duration", file: "hotsyncd.toml", content: `end_timeout = "soon"`},
		{name: "missing vendor", file: "hotsyncd.toml", content: "[[usb.devices]]\nlabel = \"x\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.file, tt.content))
			require.Error(t, err)
			if tt.errIs != nil {
				require.ErrorIs(t, err, tt.errIs)
			}
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestServerOptions(t *testing.T) {
	require := require.New(t)

	cfg, err := Load(writeFile(t, "hotsyncd.toml", tomlConfig))
	require.NoError(err)

	padpCfg, err := padp.NewConnectionConfig(cfg.PADPOptions(logger.GetLogger())...)
	require.NoError(err)
	require.Equal(500*time.Millisecond, padpCfg.AckTimeout())
	require.Equal(4, padpCfg.RetryLimit())
	require.Equal(padp.DefaultReadTimeout, padpCfg.ReadTimeout())

	opts, err := cfg.ServerOptions(logger.GetLogger())
	require.NoError(err)

	sc, err := hotsync.NewServerConfig(opts...)
	require.NoError(err)
	require.Equal(uint32(57600), sc.BaudRate())
	require.Equal(250*time.Millisecond, sc.PollInterval())
	require.Len(sc.USBDevices(), 2)

	cfg.PADP.RetryLimit = padp.MaxRetryLimit + 1
	_, err = cfg.ServerOptions(logger.GetLogger())
	require.Error(err)
}
