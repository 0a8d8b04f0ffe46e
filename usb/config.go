package usb

import (
	"fmt"
	"strings"
	"time"
)

// closeNotifyTimeout bounds the CLOSE_NOTIFICATION request sent on close.
const closeNotifyTimeout = 500 * time.Millisecond

// Protocol is the framing spoken over a device's stream.
type Protocol uint8

const (
	// ProtocolPADP runs CMP and DLP over PADP.
	ProtocolPADP Protocol = iota
	// ProtocolNetSync runs DLP over NetSync framing.
	ProtocolNetSync
)

func (p Protocol) String() string {
	switch p {
	case ProtocolPADP:
		return "padp"
	case ProtocolNetSync:
		return "netsync"
	default:
		return fmt.Sprintf("Protocol(%d)", uint8(p))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p Protocol) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Protocol) UnmarshalText(b []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(b))) {
	case "padp", "":
		*p = ProtocolPADP
	case "netsync":
		*p = ProtocolNetSync
	default:
		return fmt.Errorf("usb: unknown protocol %q", string(b))
	}

	return nil
}

// DeviceConfig describes how to talk to one kind of device.
type DeviceConfig struct {
	VendorID  uint16   `toml:"vendor_id" yaml:"vendor_id"`
	ProductID uint16   `toml:"product_id" yaml:"product_id"`
	Label     string   `toml:"label" yaml:"label"`
	Family    Family   `toml:"family" yaml:"family"`
	Protocol  Protocol `toml:"protocol" yaml:"protocol"`
}

// ID returns the vendor:product id the config applies to.
func (c DeviceConfig) ID() string {
	return fmt.Sprintf("%04x:%04x", c.VendorID, c.ProductID)
}

// DefaultDevices lists known HotSync capable devices.
var DefaultDevices = []DeviceConfig{
	{VendorID: 0x0830, ProductID: 0x0001, Label: "Palm m500", Family: FamilyGeneric, Protocol: ProtocolNetSync},
	{VendorID: 0x0830, ProductID: 0x0002, Label: "Palm m505", Family: FamilyGeneric, Protocol: ProtocolNetSync},
	{VendorID: 0x0830, ProductID: 0x0003, Label: "Palm m515", Family: FamilyGeneric, Protocol: ProtocolNetSync},
	{VendorID: 0x0830, ProductID: 0x0060, Label: "Palm Tungsten / Zire", Family: FamilyGeneric, Protocol: ProtocolNetSync},
	{VendorID: 0x0830, ProductID: 0x0061, Label: "Palm Zire 71 / Tungsten", Family: FamilyGenericExt, Protocol: ProtocolNetSync},
	{VendorID: 0x082D, ProductID: 0x0100, Label: "Handspring Visor", Family: FamilyVisor, Protocol: ProtocolPADP},
	{VendorID: 0x054C, ProductID: 0x0066, Label: "Sony CLIE 4.x", Family: FamilySonyClie, Protocol: ProtocolPADP},
	{VendorID: 0x12EF, ProductID: 0x0100, Label: "Tapwave Zodiac", Family: FamilyTapwave, Protocol: ProtocolNetSync},
}

// Match returns the config in configs matching info.
func Match(configs []DeviceConfig, info DeviceInfo) (DeviceConfig, bool) {
	for _, c := range configs {
		if c.VendorID == info.VendorID && c.ProductID == info.ProductID {
			return c, true
		}
	}

	return DeviceConfig{}, false
}
