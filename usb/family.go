package usb

import (
	"context"
	"fmt"
	"strings"

	"github.com/Tavisco/palm-sync/logger"
	"github.com/Tavisco/palm-sync/wire"
)

// Family selects the initialization routine of a device.
type Family uint8

const (
	FamilyNone Family = iota
	FamilyGeneric
	FamilyGenericExt
	FamilyVisor
	FamilySonyClie
	FamilyTapwave
)

var familyNames = map[Family]string{
	FamilyNone:       "none",
	FamilyGeneric:    "generic",
	FamilyGenericExt: "generic-ext",
	FamilyVisor:      "visor",
	FamilySonyClie:   "sony-clie",
	FamilyTapwave:    "tapwave",
}

func (f Family) String() string {
	if name, ok := familyNames[f]; ok {
		return name
	}

	return fmt.Sprintf("Family(%d)", uint8(f))
}

// ParseFamily returns the family with the given name.
func ParseFamily(name string) (Family, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for f, n := range familyNames {
		if n == name {
			return f, nil
		}
	}

	return 0, fmt.Errorf("%w: %q", ErrUnknownFamily, name)
}

// MarshalText implements encoding.TextMarshaler.
func (f Family) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *Family) UnmarshalText(b []byte) error {
	v, err := ParseFamily(string(b))
	if err != nil {
		return err
	}
	*f = v

	return nil
}

// Endpoints are the endpoints of an initialized device. Zero endpoint
// numbers let the device adapter choose the first bulk endpoints.
type Endpoints struct {
	Interrupt uint8
	In        uint8
	Out       uint8
}

// Initializer prepares a device for HotSync and returns its endpoints.
type Initializer func(ctx context.Context, dev Device, l logger.Logger) (Endpoints, error)

// initializers is read-only after package init.
var initializers map[Family]Initializer

func init() {
	initializers = map[Family]Initializer{
		FamilyNone:       initNone,
		FamilyGeneric:    initGeneric,
		FamilyGenericExt: initGenericExt,
		FamilyVisor:      initNone,
		FamilySonyClie:   initNone,
		FamilyTapwave:    initNone,
	}
}

// InitializerFor returns the initializer registered for f.
func InitializerFor(f Family) (Initializer, error) {
	fn, ok := initializers[f]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFamily, f)
	}

	return fn, nil
}

func initNone(context.Context, Device, logger.Logger) (Endpoints, error) {
	return Endpoints{}, nil
}

// controlRead issues a vendor control-in request and decodes its response.
func controlRead(ctx context.Context, dev Device, req VendorRequest, s *wire.Schema) (wire.Record, error) {
	size, err := s.Size(wire.Record{})
	if err != nil {
		return nil, err
	}

	res, err := dev.ControlIn(ctx, Setup{Request: req}, size)
	if err != nil {
		return nil, err
	}
	if res.Status != StatusOK {
		return nil, fmt.Errorf("%w: %s status %s", ErrTransfer, req, res.Status)
	}

	rec, _, err := s.Deserialize(res.Data)
	if err != nil {
		return nil, err
	}

	return rec, nil
}

func initGeneric(ctx context.Context, dev Device, l logger.Logger) (Endpoints, error) {
	info, err := controlRead(ctx, dev, GetConnectionInfo, ConnInfoSchema)
	if err != nil {
		return Endpoints{}, &InitError{Family: FamilyGeneric, Step: GetConnectionInfo.String(), Err: err}
	}
	l.Debug("usb: connection info", "info", info)

	port, ok := hotSyncPort(info)
	if !ok {
		return Endpoints{}, &InitError{
			Family: FamilyGeneric,
			Step:   GetConnectionInfo.String(),
			Err:    fmt.Errorf("%w: %v", ErrNoHotSyncPort, info),
		}
	}

	// The answer is meaningless, but devices may wait for the request
	// before they send data.
	if _, err := controlRead(ctx, dev, GetNumBytesAvailable, numBytesSchema); err != nil {
		return Endpoints{}, &InitError{Family: FamilyGeneric, Step: GetNumBytesAvailable.String(), Err: err}
	}

	return Endpoints{In: port, Out: port}, nil
}

// hotSyncPort returns the port number of the first HOTSYNC entry among the
// reported ports.
func hotSyncPort(info wire.Record) (uint8, bool) {
	ports := info.Records("ports")
	n := min(int(info.Uint("numPorts")), len(ports)) //nolint:gosec
	for _, p := range ports[:n] {
		if PortFunction(p.Uint("functionType")) == PortHotSync { //nolint:gosec
			return uint8(p.Uint("portNumber")), true //nolint:gosec
		}
	}

	return 0, false
}

func initGenericExt(ctx context.Context, dev Device, l logger.Logger) (Endpoints, error) {
	info, err := controlRead(ctx, dev, GetExtConnectionInfo, ExtConnInfoSchema)
	if err != nil {
		return Endpoints{}, &InitError{Family: FamilyGenericExt, Step: GetExtConnectionInfo.String(), Err: err}
	}
	l.Debug("usb: extended connection info", "info", info)

	ports := info.Records("ports")
	n := min(int(info.Uint("numPorts")), len(ports)) //nolint:gosec
	for _, p := range ports[:n] {
		if p.String("type") != hotSyncCreator {
			continue
		}
		if info.Uint("hasDifferentEndpoints") == 0 {
			port := uint8(p.Uint("portNumber")) //nolint:gosec
			return Endpoints{In: port, Out: port}, nil
		}
		ep := p.Record("endpoints")

		return Endpoints{
			In:  uint8(ep.Uint("inEndpoint")),  //nolint:gosec
			Out: uint8(ep.Uint("outEndpoint")), //nolint:gosec
		}, nil
	}

	return Endpoints{}, &InitError{
		Family: FamilyGenericExt,
		Step:   GetExtConnectionInfo.String(),
		Err:    fmt.Errorf("%w: %v", ErrNoHotSyncPort, info),
	}
}
