// Package gousb provides a libusb backed usb.DeviceSource. It needs cgo and
// the libusb-1.0 headers, which is why it lives apart from package usb.
package gousb

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/gousb"

	"github.com/Tavisco/palm-sync/logger"
	"github.com/Tavisco/palm-sync/usb"
)

const (
	controlVendorIn  = gousb.ControlIn | gousb.ControlVendor | gousb.ControlEndpoint
	controlVendorOut = gousb.ControlOut | gousb.ControlVendor | gousb.ControlEndpoint
)

// Source enumerates devices through libusb.
type Source struct {
	ctx    *gousb.Context
	logger logger.Logger
}

var _ usb.DeviceSource = (*Source)(nil)

// NewSource creates a libusb backed device source. Close releases it.
func NewSource(l logger.Logger) *Source {
	if l == nil {
		l = logger.GetLogger()
	}

	return &Source{ctx: gousb.NewContext(), logger: l}
}

// Close releases the libusb context.
func (s *Source) Close() error {
	return s.ctx.Close()
}

// Scan lists attached devices without opening them.
func (s *Source) Scan(_ context.Context) ([]usb.DeviceInfo, error) {
	var infos []usb.DeviceInfo
	_, err := s.ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		infos = append(infos, usb.DeviceInfo{
			VendorID:  uint16(desc.Vendor),
			ProductID: uint16(desc.Product),
			Bus:       desc.Bus,
			Address:   desc.Address,
		})

		return false
	})
	if err != nil {
		return nil, fmt.Errorf("usb: scan: %w", err)
	}

	return infos, nil
}

// Open opens the device attached at info and claims its first interface.
func (s *Source) Open(_ context.Context, info usb.DeviceInfo) (usb.Device, error) {
	devs, err := s.ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Bus == info.Bus && desc.Address == info.Address
	})
	if err != nil {
		for _, d := range devs {
			_ = d.Close()
		}
		return nil, fmt.Errorf("usb: open %s: %w", info.Key(), err)
	}
	if len(devs) == 0 {
		return nil, fmt.Errorf("%w: %s", usb.ErrDeviceGone, info.Key())
	}
	dev := devs[0]
	for _, d := range devs[1:] {
		_ = d.Close()
	}

	if err := dev.SetAutoDetach(true); err != nil {
		s.logger.Debug("usb: auto detach unsupported", "device", info.Key(), "error", err)
	}

	intf, done, err := dev.DefaultInterface()
	if err != nil {
		_ = dev.Close()
		return nil, fmt.Errorf("usb: claim interface of %s: %w", info.Key(), err)
	}

	return &device{dev: dev, intf: intf, release: done}, nil
}

// device adapts a gousb device to usb.Device.
type device struct {
	dev     *gousb.Device
	intf    *gousb.Interface
	release func()

	mu   sync.Mutex
	in   map[uint8]*gousb.InEndpoint
	out  map[uint8]*gousb.OutEndpoint
	once sync.Once
}

func transferResult(err error) (usb.TransferResult, error) {
	switch {
	case err == nil:
		return usb.TransferResult{Status: usb.StatusOK}, nil
	case errors.Is(err, gousb.ErrorPipe), errors.Is(err, gousb.TransferStall):
		return usb.TransferResult{Status: usb.StatusStall}, nil
	case errors.Is(err, gousb.ErrorOverflow), errors.Is(err, gousb.TransferOverflow):
		return usb.TransferResult{Status: usb.StatusBabble}, nil
	default:
		return usb.TransferResult{}, err
	}
}

func (d *device) ControlIn(_ context.Context, setup usb.Setup, length int) (usb.TransferResult, error) {
	buf := make([]byte, length)
	n, err := d.dev.Control(controlVendorIn, uint8(setup.Request), setup.Value, setup.Index, buf)
	res, err := transferResult(err)
	if err != nil || res.Status != usb.StatusOK {
		return res, err
	}
	res.Data = buf[:n]

	return res, nil
}

func (d *device) ControlOut(_ context.Context, setup usb.Setup, data []byte) (usb.TransferResult, error) {
	_, err := d.dev.Control(controlVendorOut, uint8(setup.Request), setup.Value, setup.Index, data)
	return transferResult(err)
}

// firstBulk returns the number of the first bulk endpoint in direction dir.
func (d *device) firstBulk(dir gousb.EndpointDirection) (uint8, error) {
	for _, desc := range d.intf.Setting.Endpoints {
		if desc.Direction == dir && desc.TransferType == gousb.TransferTypeBulk {
			return uint8(desc.Number), nil //nolint:gosec
		}
	}

	return 0, fmt.Errorf("%w: no bulk endpoint", usb.ErrTransfer)
}

func (d *device) inEndpoint(n uint8) (*gousb.InEndpoint, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if n == 0 {
		var err error
		if n, err = d.firstBulk(gousb.EndpointDirectionIn); err != nil {
			return nil, err
		}
	}
	if ep, ok := d.in[n]; ok {
		return ep, nil
	}
	ep, err := d.intf.InEndpoint(int(n))
	if err != nil {
		return nil, err
	}
	if d.in == nil {
		d.in = make(map[uint8]*gousb.InEndpoint)
	}
	d.in[n] = ep

	return ep, nil
}

func (d *device) outEndpoint(n uint8) (*gousb.OutEndpoint, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if n == 0 {
		var err error
		if n, err = d.firstBulk(gousb.EndpointDirectionOut); err != nil {
			return nil, err
		}
	}
	if ep, ok := d.out[n]; ok {
		return ep, nil
	}
	ep, err := d.intf.OutEndpoint(int(n))
	if err != nil {
		return nil, err
	}
	if d.out == nil {
		d.out = make(map[uint8]*gousb.OutEndpoint)
	}
	d.out[n] = ep

	return ep, nil
}

func (d *device) BulkIn(ctx context.Context, endpoint uint8, length int) (usb.TransferResult, error) {
	ep, err := d.inEndpoint(endpoint)
	if err != nil {
		return usb.TransferResult{}, err
	}

	buf := make([]byte, length)
	n, err := ep.ReadContext(ctx, buf)
	res, err := transferResult(err)
	if err != nil || res.Status != usb.StatusOK {
		return res, err
	}
	res.Data = buf[:n]

	return res, nil
}

func (d *device) BulkOut(ctx context.Context, endpoint uint8, data []byte) (usb.TransferResult, error) {
	ep, err := d.outEndpoint(endpoint)
	if err != nil {
		return usb.TransferResult{}, err
	}

	_, err = ep.WriteContext(ctx, data)

	return transferResult(err)
}

func (d *device) Close() error {
	var err error
	d.once.Do(func() {
		d.release()
		err = d.dev.Close()
	})

	return err
}
