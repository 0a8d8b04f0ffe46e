// Package cmp implements the Connection Management Protocol, the handshake
// a Palm OS device and the desktop exchange over PADP before a serial or USB
// HotSync session.
//
// The device announces itself with a WAKEUP message carrying its protocol
// version and the fastest baud rate it supports. The desktop replies with an
// INIT message carrying the rate both ends switch to, or with an ABORT when
// the versions are incompatible.
package cmp

import (
	"context"
	"errors"
	"fmt"

	"github.com/Tavisco/palm-sync/logger"
	"github.com/Tavisco/palm-sync/transport"
	"github.com/Tavisco/palm-sync/wire"
)

// Type is the CMP message type.
type Type uint8

const (
	TypeWakeup Type = 1
	TypeInit   Type = 2
	TypeAbort  Type = 3
)

var typeEnum = wire.NewEnum("CmpType", map[uint64]string{
	uint64(TypeWakeup): "WAKEUP",
	uint64(TypeInit):   "INIT",
	uint64(TypeAbort):  "ABORT",
})

func (t Type) String() string {
	return typeEnum.Name(uint64(t))
}

// CMP message flags.
const (
	// FlagChangeBaudRate on INIT asks the device to switch to BaudRate.
	FlagChangeBaudRate byte = 0x80
	// FlagVersionMismatch on ABORT reports an incompatible protocol version.
	FlagVersionMismatch byte = 0x80
	// FlagOneMinuteTimeout and FlagTwoMinuteTimeout set the device's
	// receive timeout.
	FlagOneMinuteTimeout byte = 0x40
	FlagTwoMinuteTimeout byte = 0x20
	// FlagLongPacketSupport announces support for long-form PADP headers.
	FlagLongPacketSupport byte = 0x10
)

const (
	// VersionMajor and VersionMinor are the CMP version of this implementation.
	VersionMajor = 1
	VersionMinor = 1

	// InitialBaudRate is the rate every serial session starts at.
	InitialBaudRate = 9600

	// MessageSize is the size of an encoded CMP message.
	MessageSize = 10
)

// ErrHandshake is wrapped by every handshake failure.
var ErrHandshake = errors.New("cmp: handshake failed")

// messageSchema is the 10-byte CMP message.
var messageSchema = wire.NewSchema("CmpMessage",
	wire.Uint8("type").WithEnum(typeEnum),
	wire.Uint8("flags"),
	wire.Uint8("versionMajor"),
	wire.Uint8("versionMinor"),
	wire.Padding("reserved", 2),
	wire.Uint32("baudRate"),
)

// Message is one CMP message.
type Message struct {
	Type         Type
	Flags        byte
	VersionMajor uint8
	VersionMinor uint8
	BaudRate     uint32
}

// Marshal encodes the message.
func (m *Message) Marshal() ([]byte, error) {
	return messageSchema.Serialize(wire.Record{
		"type":         uint8(m.Type),
		"flags":        m.Flags,
		"versionMajor": m.VersionMajor,
		"versionMinor": m.VersionMinor,
		"baudRate":     m.BaudRate,
	})
}

// ParseMessage decodes a CMP message. Bytes after the message are ignored.
func ParseMessage(b []byte) (*Message, error) {
	rec, _, err := messageSchema.Deserialize(b)
	if err != nil {
		return nil, err
	}

	return &Message{
		Type:         Type(rec.Uint("type")),          //nolint:gosec
		Flags:        byte(rec.Uint("flags")),         //nolint:gosec
		VersionMajor: uint8(rec.Uint("versionMajor")), //nolint:gosec
		VersionMinor: uint8(rec.Uint("versionMinor")), //nolint:gosec
		BaudRate:     uint32(rec.Uint("baudRate")),    //nolint:gosec
	}, nil
}

// Params is the outcome of a handshake.
type Params struct {
	// BaudRate is the rate both ends use after the handshake.
	BaudRate uint32
	// RemoteMajor and RemoteMinor are the CMP version of the remote end.
	RemoteMajor uint8
	RemoteMinor uint8
	// LongPackets reports whether both ends support long-form PADP headers.
	LongPackets bool
}

// Handshake performs the desktop side of the handshake on f.
//
// It waits for the device's WAKEUP, replies INIT with the lower of
// targetRate and the rate offered by the device, and returns once the INIT
// has been delivered. A device with a newer major version receives an
// ABORT. Every failure wraps ErrHandshake; the handshake is never retried.
func Handshake(ctx context.Context, f transport.Framer, targetRate uint32) (Params, error) {
	raw, err := f.ReadMessage(ctx)
	if err != nil {
		return Params{}, fmt.Errorf("%w: waiting for wakeup: %w", ErrHandshake, err)
	}

	wakeup, err := ParseMessage(raw)
	if err != nil {
		return Params{}, fmt.Errorf("%w: %w", ErrHandshake, err)
	}
	if wakeup.Type != TypeWakeup {
		return Params{}, fmt.Errorf("%w: expected WAKEUP, got %s", ErrHandshake, wakeup.Type)
	}

	params := Params{
		BaudRate:    InitialBaudRate,
		RemoteMajor: wakeup.VersionMajor,
		RemoteMinor: wakeup.VersionMinor,
		LongPackets: wakeup.Flags&FlagLongPacketSupport != 0,
	}

	if wakeup.VersionMajor > VersionMajor {
		abort := &Message{Type: TypeAbort, Flags: FlagVersionMismatch, VersionMajor: VersionMajor, VersionMinor: VersionMinor}
		if err := send(ctx, f, abort); err != nil {
			logger.Debug("cmp: failed to send abort", "error", err)
		}

		return params, fmt.Errorf("%w: incompatible version %d.%d", ErrHandshake, wakeup.VersionMajor, wakeup.VersionMinor)
	}

	if wakeup.BaudRate > 0 && targetRate > 0 {
		params.BaudRate = min(targetRate, wakeup.BaudRate)
	}

	initMsg := &Message{Type: TypeInit, VersionMajor: VersionMajor, VersionMinor: VersionMinor, BaudRate: params.BaudRate}
	if params.BaudRate != InitialBaudRate {
		initMsg.Flags |= FlagChangeBaudRate
	}
	if params.LongPackets {
		initMsg.Flags |= FlagLongPacketSupport
	}

	if err := send(ctx, f, initMsg); err != nil {
		return params, fmt.Errorf("%w: sending init: %w", ErrHandshake, err)
	}

	return params, nil
}

// Offer performs the device side of the handshake on f, offering maxRate.
// It is used by device simulators and tests.
func Offer(ctx context.Context, f transport.Framer, maxRate uint32) (Params, error) {
	wakeup := &Message{
		Type:         TypeWakeup,
		Flags:        FlagLongPacketSupport,
		VersionMajor: VersionMajor,
		VersionMinor: VersionMinor,
		BaudRate:     maxRate,
	}
	if err := send(ctx, f, wakeup); err != nil {
		return Params{}, fmt.Errorf("%w: sending wakeup: %w", ErrHandshake, err)
	}

	raw, err := f.ReadMessage(ctx)
	if err != nil {
		return Params{}, fmt.Errorf("%w: waiting for init: %w", ErrHandshake, err)
	}

	reply, err := ParseMessage(raw)
	if err != nil {
		return Params{}, fmt.Errorf("%w: %w", ErrHandshake, err)
	}

	switch reply.Type {
	case TypeInit:
	case TypeAbort:
		return Params{}, fmt.Errorf("%w: aborted by desktop (flags 0x%02X)", ErrHandshake, reply.Flags)
	default:
		return Params{}, fmt.Errorf("%w: expected INIT, got %s", ErrHandshake, reply.Type)
	}

	params := Params{
		BaudRate:    InitialBaudRate,
		RemoteMajor: reply.VersionMajor,
		RemoteMinor: reply.VersionMinor,
		LongPackets: reply.Flags&FlagLongPacketSupport != 0,
	}
	if reply.Flags&FlagChangeBaudRate != 0 {
		params.BaudRate = reply.BaudRate
	}

	return params, nil
}

func send(ctx context.Context, f transport.Framer, m *Message) error {
	b, err := m.Marshal()
	if err != nil {
		return err
	}

	return f.WriteMessage(ctx, b)
}
