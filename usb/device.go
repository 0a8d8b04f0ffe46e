package usb

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for USB transport setup and transfers.
var (
	ErrTransfer      = errors.New("usb: transfer failed")
	ErrNoHotSyncPort = errors.New("usb: no HotSync port reported")
	ErrUnknownFamily = errors.New("usb: unknown device family")
	ErrDeviceGone    = errors.New("usb: device not attached")
)

// TransferStatus is the device-level outcome of a transfer.
type TransferStatus uint8

const (
	StatusOK TransferStatus = iota
	StatusStall
	StatusBabble
)

func (s TransferStatus) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusStall:
		return "stall"
	case StatusBabble:
		return "babble"
	default:
		return fmt.Sprintf("TransferStatus(%d)", uint8(s))
	}
}

// TransferResult is the outcome of one transfer. Data holds the bytes read
// by an IN transfer.
type TransferResult struct {
	Status TransferStatus
	Data   []byte
}

// VendorRequest is a Palm vendor control request.
type VendorRequest uint8

const (
	// GetNumBytesAvailable queries pending bytes. Devices answer a fixed
	// value, but some expect the request before sending data.
	GetNumBytesAvailable VendorRequest = 0x01
	// CloseNotification tells the device the host is closing the pipe.
	CloseNotification VendorRequest = 0x02
	// GetConnectionInfo returns a GetConnectionInfoResponse.
	GetConnectionInfo VendorRequest = 0x03
	// GetExtConnectionInfo returns a GetExtConnectionInfoResponse on newer devices.
	GetExtConnectionInfo VendorRequest = 0x04
)

func (r VendorRequest) String() string {
	switch r {
	case GetNumBytesAvailable:
		return "GET_NUM_BYTES_AVAILABLE"
	case CloseNotification:
		return "CLOSE_NOTIFICATION"
	case GetConnectionInfo:
		return "GET_CONNECTION_INFO"
	case GetExtConnectionInfo:
		return "GET_EXT_CONNECTION_INFO"
	default:
		return fmt.Sprintf("VendorRequest(0x%02X)", uint8(r))
	}
}

// Setup is a vendor control request addressed to an endpoint.
type Setup struct {
	Request VendorRequest
	Value   uint16
	Index   uint16
}

// Device is an opened USB device.
//
// A returned error means the host could not perform the transfer; a device
// that refused it reports a non-OK TransferResult.Status instead.
type Device interface {
	ControlIn(ctx context.Context, setup Setup, length int) (TransferResult, error)
	ControlOut(ctx context.Context, setup Setup, data []byte) (TransferResult, error)
	BulkIn(ctx context.Context, endpoint uint8, length int) (TransferResult, error)
	BulkOut(ctx context.Context, endpoint uint8, data []byte) (TransferResult, error)
	Close() error
}

// DeviceInfo identifies an attached device.
type DeviceInfo struct {
	VendorID  uint16
	ProductID uint16
	Bus       int
	Address   int
}

// Key identifies the attachment point of the device.
func (i DeviceInfo) Key() string {
	return fmt.Sprintf("%03d:%03d", i.Bus, i.Address)
}

// ID returns the vendor:product id of the device.
func (i DeviceInfo) ID() string {
	return fmt.Sprintf("%04x:%04x", i.VendorID, i.ProductID)
}

// DeviceSource enumerates and opens devices.
type DeviceSource interface {
	Scan(ctx context.Context) ([]DeviceInfo, error)
	Open(ctx context.Context, info DeviceInfo) (Device, error)
}

// InitError reports a failed device initialization step.
type InitError struct {
	Family Family
	Step   string
	Err    error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("usb: %s init: %s: %v", e.Family, e.Step, e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }
