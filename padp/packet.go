package padp

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// Serial Link Protocol frame layout.
//
// A frame on the wire is:
//
//	[BE EF ED][dest][src][type][size u16][xid][hdrsum] body [crc u16]
//
// where body is the PADP header followed by the fragment payload and crc
// covers the SLP header and body.
const (
	slpHeaderSize  = 10
	slpTrailerSize = 2

	// SLPTypePADP is the SLP packet type carrying PADP.
	SLPTypePADP byte = 2
	// SLPTypeLoopback is the SLP loopback test packet type; it is ignored.
	SLPTypeLoopback byte = 3

	// SocketDLP is the SLP socket used by the desktop link protocol on both ends.
	SocketDLP byte = 3
)

var slpSignature = [3]byte{0xBE, 0xEF, 0xED}

// PADP packet types.
const (
	TypeData   byte = 0x01
	TypeAck    byte = 0x02
	TypeTickle byte = 0x04
	TypeAbort  byte = 0x08
)

// PADP packet flags.
const (
	FlagFirst    byte = 0x80
	FlagLast     byte = 0x40
	FlagMemError byte = 0x20
	FlagLongForm byte = 0x10
)

const (
	padpHeaderSize     = 4
	padpLongHeaderSize = 6

	// MaxFragmentSize is the largest payload carried by one PADP fragment.
	MaxFragmentSize = 1024

	maxSLPBodySize = padpLongHeaderSize + MaxFragmentSize
)

// Packet is one SLP frame carrying a PADP packet.
type Packet struct {
	Dest    byte
	Src     byte
	SLPType byte
	XID     byte

	// Type is the PADP packet type (TypeData, TypeAck, ...).
	Type  byte
	Flags byte
	// Size is the total message length on a first fragment and the payload
	// offset on continuation fragments. Acks echo the acknowledged value.
	Size    uint32
	Payload []byte
}

// newPacket returns a PADP packet addressed from and to the DLP socket.
func newPacket(typ, flags, xid byte, size uint32, payload []byte) *Packet {
	return &Packet{
		Dest:    SocketDLP,
		Src:     SocketDLP,
		SLPType: SLPTypePADP,
		XID:     xid,
		Type:    typ,
		Flags:   flags,
		Size:    size,
		Payload: payload,
	}
}

// IsFirst reports whether the packet starts a message.
func (p *Packet) IsFirst() bool { return p.Flags&FlagFirst != 0 }

// IsLast reports whether the packet ends a message.
func (p *Packet) IsLast() bool { return p.Flags&FlagLast != 0 }

// IsLongForm reports whether the PADP size field is 32 bits wide.
func (p *Packet) IsLongForm() bool { return p.Flags&FlagLongForm != 0 }

// Pack encodes the packet as a complete SLP frame.
//
// The long-form flag is set automatically when Size does not fit in 16 bits.
func (p *Packet) Pack() []byte {
	flags := p.Flags
	if p.Size > 0xFFFF {
		flags |= FlagLongForm
	}

	hdrLen := padpHeaderSize
	if flags&FlagLongForm != 0 {
		hdrLen = padpLongHeaderSize
	}
	bodyLen := hdrLen + len(p.Payload)

	buf := make([]byte, 0, slpHeaderSize+bodyLen+slpTrailerSize)
	buf = append(buf, slpSignature[:]...)
	buf = append(buf, p.Dest, p.Src, p.SLPType)
	buf = binary.BigEndian.AppendUint16(buf, uint16(bodyLen)) //nolint:gosec
	buf = append(buf, p.XID)
	buf = append(buf, headerSum(buf))

	buf = append(buf, p.Type, flags)
	if flags&FlagLongForm != 0 {
		buf = binary.BigEndian.AppendUint32(buf, p.Size)
	} else {
		buf = binary.BigEndian.AppendUint16(buf, uint16(p.Size)) //nolint:gosec
	}
	buf = append(buf, p.Payload...)

	return binary.BigEndian.AppendUint16(buf, crc16(buf))
}

// headerSum is the low 8 bits of the sum of the first nine SLP header bytes.
func headerSum(hdr []byte) byte {
	var sum byte
	for _, b := range hdr[:slpHeaderSize-1] {
		sum += b
	}

	return sum
}

// ParsePacket decodes and validates one complete SLP frame.
//
// It returns ErrBadSignature, ErrHeaderChecksum or ErrChecksumMismatch for
// corrupted frames and ErrMalformedPacket for inconsistent lengths.
func ParsePacket(frame []byte) (*Packet, error) {
	if len(frame) < slpHeaderSize+slpTrailerSize {
		return nil, fmt.Errorf("%w: frame of %d bytes", ErrMalformedPacket, len(frame))
	}
	if frame[0] != slpSignature[0] || frame[1] != slpSignature[1] || frame[2] != slpSignature[2] {
		return nil, ErrBadSignature
	}
	if sum := headerSum(frame); sum != frame[9] {
		return nil, fmt.Errorf("%w: wire=0x%02X, computed=0x%02X", ErrHeaderChecksum, frame[9], sum)
	}

	bodyLen := int(binary.BigEndian.Uint16(frame[6:8]))
	if len(frame) != slpHeaderSize+bodyLen+slpTrailerSize {
		return nil, fmt.Errorf("%w: body size %d, frame of %d bytes", ErrMalformedPacket, bodyLen, len(frame))
	}

	crcOffset := slpHeaderSize + bodyLen
	wireCRC := binary.BigEndian.Uint16(frame[crcOffset:])
	if calc := crc16(frame[:crcOffset]); calc != wireCRC {
		return nil, fmt.Errorf("%w: wire=0x%04X, computed=0x%04X", ErrChecksumMismatch, wireCRC, calc)
	}

	p := &Packet{
		Dest:    frame[3],
		Src:     frame[4],
		SLPType: frame[5],
		XID:     frame[8],
	}
	if p.SLPType != SLPTypePADP {
		p.Payload = append([]byte(nil), frame[slpHeaderSize:crcOffset]...)
		return p, nil
	}

	body := frame[slpHeaderSize:crcOffset]
	if len(body) < padpHeaderSize {
		return nil, fmt.Errorf("%w: PADP header truncated", ErrMalformedPacket)
	}
	p.Type = body[0]
	p.Flags = body[1]
	if p.IsLongForm() {
		if len(body) < padpLongHeaderSize {
			return nil, fmt.Errorf("%w: long PADP header truncated", ErrMalformedPacket)
		}
		p.Size = binary.BigEndian.Uint32(body[2:6])
		body = body[padpLongHeaderSize:]
	} else {
		p.Size = uint32(binary.BigEndian.Uint16(body[2:4]))
		body = body[padpHeaderSize:]
	}
	p.Payload = append([]byte(nil), body...)

	return p, nil
}

// readFrame reads the next SLP frame from r, skipping any bytes before the
// frame signature.
//
// Frames failing the header checksum are reported after their header has
// been consumed so the caller can continue scanning for the next frame.
func readFrame(r *bufio.Reader) ([]byte, error) {
	matched := 0
	for matched < len(slpSignature) {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}

		switch {
		case b == slpSignature[matched]:
			matched++
		case b == slpSignature[0]:
			matched = 1
		default:
			matched = 0
		}
	}

	frame := make([]byte, slpHeaderSize, slpHeaderSize+maxSLPBodySize+slpTrailerSize)
	copy(frame, slpSignature[:])
	if _, err := io.ReadFull(r, frame[len(slpSignature):]); err != nil {
		return nil, err
	}
	if sum := headerSum(frame); sum != frame[9] {
		return nil, fmt.Errorf("%w: wire=0x%02X, computed=0x%02X", ErrHeaderChecksum, frame[9], sum)
	}

	bodyLen := int(binary.BigEndian.Uint16(frame[6:8]))
	if bodyLen > maxSLPBodySize {
		return nil, fmt.Errorf("%w: body size %d exceeds %d", ErrMalformedPacket, bodyLen, maxSLPBodySize)
	}

	frame = frame[:slpHeaderSize+bodyLen+slpTrailerSize]
	if _, err := io.ReadFull(r, frame[slpHeaderSize:]); err != nil {
		return nil, err
	}

	return frame, nil
}
