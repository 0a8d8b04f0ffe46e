package wire

import (
	"bytes"
	"fmt"
)

// decoder walks an input buffer; base is the absolute offset of input[0]
// used for error reporting from nested structures. tail is set while the
// field being decoded is the last one of the whole input.
type decoder struct {
	input []byte
	pos   int
	base  int
	tail  bool
}

func (d *decoder) remaining() int {
	return len(d.input) - d.pos
}

func (d *decoder) read(n int) ([]byte, error) {
	if n < 0 || d.remaining() < n {
		return nil, fmt.Errorf("%w: need %d bytes, have %d", ErrTruncated, n, d.remaining())
	}
	b := d.input[d.pos : d.pos+n]
	d.pos += n

	return b, nil
}

func (d *decoder) decodeSchema(s *Schema) (Record, error) {
	rec := make(Record, len(s.fields))
	outer := d.tail
	defer func() { d.tail = outer }()
	for i := range s.fields {
		f := &s.fields[i]
		start := d.pos
		d.tail = outer && i == len(s.fields)-1
		v, err := d.decodeField(f, rec)
		if err != nil {
			return nil, wrapField(f.Name, d.base+start, err)
		}
		rec[f.Name] = v
	}

	return rec, nil
}

func (d *decoder) decodeField(f *Field, rec Record) (any, error) {
	switch f.Kind {
	case KindUint, KindEnum:
		return d.readUint(f)

	case KindInt:
		u, err := d.readUint(f)
		if err != nil {
			return nil, err
		}
		shift := uint(64 - f.Size*8)
		return int64(u<<shift) >> shift, nil //nolint:gosec

	case KindBitfield:
		u, err := d.readUint(f)
		if err != nil {
			return nil, err
		}
		return unpackBits(f, u), nil

	case KindString, KindBytes:
		return d.decodeBlob(f, rec)

	case KindArray:
		return d.decodeArray(f, rec)

	case KindStruct:
		return d.decodeStruct(f)
	}

	return nil, fmt.Errorf("%w: unknown kind %v", ErrSchema, f.Kind)
}

func (d *decoder) readUint(f *Field) (uint64, error) {
	b, err := d.read(f.Size)
	if err != nil {
		return 0, err
	}

	order := f.order()
	switch f.Size {
	case 1:
		return uint64(b[0]), nil
	case 2:
		return uint64(order.Uint16(b)), nil
	case 4:
		return uint64(order.Uint32(b)), nil
	default:
		return order.Uint64(b), nil
	}
}

func unpackBits(f *Field, u uint64) Record {
	out := make(Record, len(f.Bits))
	shift := f.Size * 8
	for _, b := range f.Bits {
		shift -= b.Width
		out[b.Name] = (u >> uint(shift)) & (1<<uint(b.Width) - 1)
	}

	return out
}

func (d *decoder) refLength(f *Field, rec Record) (int, error) {
	n, ok := toUint64(rec[f.LengthRef])
	if !ok {
		return 0, fmt.Errorf("%w: length reference %q missing", ErrSchema, f.LengthRef)
	}
	if n > uint64(len(d.input)) {
		return 0, fmt.Errorf("%w: %s=%d exceeds input", ErrTruncated, f.LengthRef, n)
	}

	return int(n), nil //nolint:gosec
}

func (d *decoder) decodeBlob(f *Field, rec Record) (any, error) {
	var (
		b   []byte
		err error
	)

	switch f.Mode {
	case LengthFixed:
		b, err = d.read(f.Size)
	case LengthRef:
		var n int
		if n, err = d.refLength(f, rec); err == nil {
			b, err = d.read(n)
		}
	case LengthRest:
		b, _ = d.read(d.remaining())
	case LengthTerminated:
		idx := bytes.IndexByte(d.input[d.pos:], 0)
		if idx < 0 {
			return nil, fmt.Errorf("%w: missing NUL terminator", ErrTruncated)
		}
		b, _ = d.read(idx + 1)
		b = b[:idx]
	}
	if err != nil {
		return nil, err
	}

	if f.Kind == KindString {
		if f.Raw {
			return string(b), nil
		}
		if idx := bytes.IndexByte(b, 0); idx >= 0 {
			b = b[:idx]
		}
		return string(b), nil
	}

	return bytes.Clone(b), nil
}

func (d *decoder) decodeArray(f *Field, rec Record) (any, error) {
	count := -1
	switch f.Mode {
	case LengthFixed:
		count = f.Size
	case LengthRef:
		n, err := d.refLength(f, rec)
		if err != nil {
			return nil, err
		}
		count = n
	}

	capacity := count
	if capacity < 0 || capacity > d.remaining() {
		capacity = d.remaining()
	}
	out := make([]any, 0, capacity)
	outer := d.tail
	defer func() { d.tail = outer }()
	for i := 0; count < 0 || i < count; i++ {
		if count < 0 && d.remaining() == 0 {
			break
		}
		start := d.pos
		d.tail = outer && (count < 0 || i == count-1)
		v, err := d.decodeField(f.Elem, nil)
		if err != nil {
			return nil, wrapField(fmt.Sprintf("[%d]", i), d.base+start, err)
		}
		out = append(out, v)
	}

	return out, nil
}

func (d *decoder) decodeStruct(f *Field) (any, error) {
	if f.Prefix == nil {
		sub := &decoder{input: d.input[d.pos:], base: d.base + d.pos, tail: d.tail}
		rec, err := sub.decodeSchema(f.Schema)
		if err != nil {
			return nil, err
		}
		d.pos += sub.pos

		return rec, nil
	}

	total, err := d.readUint(f.Prefix)
	if err != nil {
		return nil, err
	}
	if total < uint64(f.Prefix.Size) {
		return nil, fmt.Errorf("%w: size prefix %d smaller than itself", ErrValue, total)
	}
	n := int(total) - f.Prefix.Size //nolint:gosec
	// The final structure of the input may overstate its size; it then
	// takes what is left.
	if d.tail && n > d.remaining() {
		n = d.remaining()
	}
	body, err := d.read(n)
	if err != nil {
		return nil, err
	}

	sub := &decoder{input: body, base: d.base + d.pos - len(body), tail: true}

	return sub.decodeSchema(f.Schema)
}
