package dlp

import (
	"encoding/binary"
	"fmt"
)

// FirstArgID is the id of the first argument of a request or response.
const FirstArgID byte = 0x20

// Argument header forms, selected by the high bits of the id byte.
const (
	argFormMask  byte = 0xC0
	argFormShort byte = 0x80
	argFormLong  byte = 0x40
	argIDMask    byte = 0x3F
)

// Arg is one raw argument of a request or response.
type Arg struct {
	ID   byte
	Data []byte
}

// appendArg encodes a with the smallest header form that fits its size:
// tiny [id][size u8], short [id|0x80][0][size u16] or long [id|0x40][0][size u32].
func appendArg(dst []byte, a Arg) []byte {
	id := a.ID & argIDMask
	n := len(a.Data)

	switch {
	case n <= 0xFF:
		dst = append(dst, id, byte(n))
	case n <= 0xFFFF:
		dst = append(dst, id|argFormShort, 0)
		dst = binary.BigEndian.AppendUint16(dst, uint16(n)) //nolint:gosec
	default:
		dst = append(dst, id|argFormLong, 0)
		dst = binary.BigEndian.AppendUint32(dst, uint32(n)) //nolint:gosec
	}

	return append(dst, a.Data...)
}

// parseArgs decodes argc arguments from b. The last argument may claim more
// bytes than remain; it then takes the remainder.
func parseArgs(b []byte, argc int) ([]Arg, error) {
	args := make([]Arg, 0, argc)
	pos := 0

	for i := range argc {
		if len(b)-pos < 2 {
			return nil, fmt.Errorf("%w: argument %d header truncated", ErrMalformed, i)
		}

		idByte := b[pos]
		var size, hdr int
		switch idByte & argFormMask {
		case argFormShort:
			if len(b)-pos < 4 {
				return nil, fmt.Errorf("%w: argument %d header truncated", ErrMalformed, i)
			}
			size, hdr = int(binary.BigEndian.Uint16(b[pos+2:])), 4
		case argFormLong:
			if len(b)-pos < 6 {
				return nil, fmt.Errorf("%w: argument %d header truncated", ErrMalformed, i)
			}
			size, hdr = int(binary.BigEndian.Uint32(b[pos+2:])), 6
		default:
			size, hdr = int(b[pos+1]), 2
		}

		pos += hdr
		// Some devices overstate the size of the last argument.
		if i == argc-1 && (size < 0 || len(b)-pos < size) {
			size = len(b) - pos
		}
		if size < 0 || len(b)-pos < size {
			return nil, fmt.Errorf("%w: argument %d needs %d bytes, have %d", ErrMalformed, i, size, len(b)-pos)
		}

		args = append(args, Arg{ID: idByte & argIDMask, Data: b[pos : pos+size]})
		pos += size
	}

	return args, nil
}
