package padp

import (
	"fmt"
)

// nextXID returns the transaction id following x. The values 0x00 and 0xFF
// are reserved and never used for data fragments.
func nextXID(x byte) byte {
	x++
	if x == 0xFF || x == 0x00 {
		x = 0x01
	}

	return x
}

// assembler reassembles the data fragments of incoming messages.
//
// It is owned by the reader goroutine of a connection and is not
// goroutine-safe.
type assembler struct {
	maxSize int

	buf    []byte
	total  int
	active bool

	// last accepted fragment, used to recognize retransmissions
	hasLast   bool
	lastXID   byte
	lastFlags byte
	lastSize  uint32
}

func newAssembler(maxSize int) *assembler {
	return &assembler{maxSize: maxSize}
}

// isDuplicate reports whether p retransmits the last accepted fragment.
func (a *assembler) isDuplicate(p *Packet) bool {
	return a.hasLast && p.XID == a.lastXID && p.Flags == a.lastFlags && p.Size == a.lastSize
}

// accept adds the data fragment p.
//
// It returns the complete message once the last fragment arrived. A
// continuation fragment that does not carry the next XID and the expected
// offset is rejected with ErrFragmentOutOfOrder, leaving the partial message
// in place for the retransmission.
func (a *assembler) accept(p *Packet) ([]byte, error) {
	if p.IsFirst() {
		total := int(p.Size)
		if total > a.maxSize {
			return nil, fmt.Errorf("%w: %d bytes exceed %d", ErrMessageTooLarge, total, a.maxSize)
		}
		if len(p.Payload) > total || (p.IsLast() && len(p.Payload) != total) {
			return nil, fmt.Errorf("%w: first fragment of %d bytes for message of %d bytes", ErrMalformedPacket, len(p.Payload), total)
		}

		a.buf = make([]byte, 0, total)
		a.total = total
		a.active = true
	} else {
		if !a.active || !a.hasLast || p.XID != nextXID(a.lastXID) {
			return nil, fmt.Errorf("%w: xid 0x%02X after 0x%02X", ErrFragmentOutOfOrder, p.XID, a.lastXID)
		}
		if int(p.Size) != len(a.buf) {
			return nil, fmt.Errorf("%w: offset %d, expected %d", ErrFragmentOutOfOrder, p.Size, len(a.buf))
		}
		end := len(a.buf) + len(p.Payload)
		if end > a.total || (p.IsLast() && end != a.total) {
			return nil, fmt.Errorf("%w: fragment ends at %d for message of %d bytes", ErrMalformedPacket, end, a.total)
		}
	}

	a.buf = append(a.buf, p.Payload...)
	a.hasLast = true
	a.lastXID = p.XID
	a.lastFlags = p.Flags
	a.lastSize = p.Size

	if !p.IsLast() {
		return nil, nil
	}

	msg := a.buf
	a.buf = nil
	a.active = false

	return msg, nil
}
