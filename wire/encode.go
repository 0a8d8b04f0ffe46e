package wire

import (
	"bytes"
	"fmt"
)

// valueOf returns the record value of f, falling back to the field default.
func valueOf(rec Record, f *Field) any {
	if v, ok := rec[f.Name]; ok && v != nil {
		return v
	}

	return f.Default
}

func (s *Schema) encode(dst []byte, rec Record, base int) ([]byte, error) {
	rec = s.withLengths(rec)
	for i := range s.fields {
		f := &s.fields[i]
		v := valueOf(rec, f)
		if f.Mode == LengthRef {
			if want := rec.Uint(f.LengthRef); uint64(valueLen(v)) != want {
				return dst, wrapField(f.Name, len(dst)-base,
					fmt.Errorf("%w: length %d does not match %s=%d", ErrValue, valueLen(v), f.LengthRef, want))
			}
		}

		var err error
		dst, err = encodeField(dst, f, v, base)
		if err != nil {
			return dst, wrapField(f.Name, len(dst)-base, err)
		}
	}

	return dst, nil
}

func encodeField(dst []byte, f *Field, v any, base int) ([]byte, error) {
	switch f.Kind {
	case KindUint:
		u, err := uintValue(f, v)
		if err != nil {
			return dst, err
		}
		return putUint(dst, f, u), nil

	case KindInt:
		n, ok := toInt64(orZero(v))
		if !ok {
			return dst, fmt.Errorf("%w: %T is not an integer", ErrValue, v)
		}
		bits := uint(f.Size * 8)
		if bits < 64 && (n < -(1<<(bits-1)) || n >= 1<<(bits-1)) {
			return dst, fmt.Errorf("%w: %d overflows %d bytes", ErrValue, n, f.Size)
		}
		return putUint(dst, f, uint64(n)), nil //nolint:gosec

	case KindEnum:
		u, err := enumValue(f, v)
		if err != nil {
			return dst, err
		}
		return putUint(dst, f, u), nil

	case KindBitfield:
		u, err := packBits(f, v)
		if err != nil {
			return dst, err
		}
		return putUint(dst, f, u), nil

	case KindString, KindBytes:
		return encodeBlob(dst, f, v)

	case KindArray:
		return encodeArray(dst, f, v, base)

	case KindStruct:
		rec, ok := toRecord(v)
		if !ok {
			return dst, fmt.Errorf("%w: %T is not a record", ErrValue, v)
		}
		if f.Prefix != nil {
			n, err := f.Schema.size(rec)
			if err != nil {
				return dst, err
			}
			total := uint64(f.Prefix.Size + n) //nolint:gosec
			if !fits(total, f.Prefix.Size) {
				return dst, fmt.Errorf("%w: structure of %d bytes overflows its size prefix", ErrValue, n)
			}
			dst = putUint(dst, f.Prefix, total)
		}
		return f.Schema.encode(dst, rec, base)
	}

	return dst, fmt.Errorf("%w: unknown kind %v", ErrSchema, f.Kind)
}

func orZero(v any) any {
	if v == nil {
		return 0
	}

	return v
}

func fits(u uint64, size int) bool {
	return size >= 8 || u < 1<<(uint(size)*8)
}

func uintValue(f *Field, v any) (uint64, error) {
	u, ok := toUint64(orZero(v))
	if !ok {
		return 0, fmt.Errorf("%w: %v is not an unsigned integer", ErrValue, v)
	}
	if !fits(u, f.Size) {
		return 0, fmt.Errorf("%w: %d overflows %d bytes", ErrValue, u, f.Size)
	}

	return u, nil
}

func enumValue(f *Field, v any) (uint64, error) {
	if name, ok := v.(string); ok {
		u, found := f.Enum.Value(name)
		if !found {
			return 0, fmt.Errorf("%w: %q", ErrEnumDomain, name)
		}
		return u, nil
	}

	return uintValue(f, v)
}

func packBits(f *Field, v any) (uint64, error) {
	if u, ok := toUint64(v); ok {
		return u, nil
	}
	rec, ok := toRecord(v)
	if !ok {
		return 0, fmt.Errorf("%w: %T is not a bitfield record", ErrValue, v)
	}

	var out uint64
	shift := f.Size * 8
	for _, b := range f.Bits {
		shift -= b.Width
		u, ok := toUint64(orZero(rec[b.Name]))
		if !ok {
			return 0, fmt.Errorf("%w: bits %q hold %T", ErrValue, b.Name, rec[b.Name])
		}
		if u >= 1<<uint(b.Width) {
			return 0, fmt.Errorf("%w: %d overflows %d bits of %q", ErrValue, u, b.Width, b.Name)
		}
		out |= u << uint(shift)
	}

	return out, nil
}

func putUint(dst []byte, f *Field, u uint64) []byte {
	order := f.order()
	switch f.Size {
	case 1:
		return append(dst, byte(u))
	case 2:
		return order.AppendUint16(dst, uint16(u)) //nolint:gosec
	case 4:
		return order.AppendUint32(dst, uint32(u)) //nolint:gosec
	default:
		return order.AppendUint64(dst, u)
	}
}

func blobValue(v any) ([]byte, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case string:
		return []byte(x), nil
	case []byte:
		return x, nil
	default:
		return nil, fmt.Errorf("%w: %T is not a string or byte slice", ErrValue, v)
	}
}

func encodeBlob(dst []byte, f *Field, v any) ([]byte, error) {
	b, err := blobValue(v)
	if err != nil {
		return dst, err
	}

	switch f.Mode {
	case LengthFixed:
		if len(b) > f.Size {
			return dst, fmt.Errorf("%w: %d bytes exceed fixed length %d", ErrValue, len(b), f.Size)
		}
		dst = append(dst, b...)
		for i := len(b); i < f.Size; i++ {
			dst = append(dst, 0)
		}
		return dst, nil

	case LengthTerminated:
		if bytes.IndexByte(b, 0) >= 0 {
			return dst, fmt.Errorf("%w: NUL inside terminated string", ErrValue)
		}
		dst = append(dst, b...)
		return append(dst, 0), nil

	case LengthRest:
		dst = append(dst, b...)
		if f.Kind == KindString && !f.Raw {
			dst = append(dst, 0)
		}
		return dst, nil

	default:
		return append(dst, b...), nil
	}
}

func encodeArray(dst []byte, f *Field, v any, base int) ([]byte, error) {
	list, ok := toList(v)
	if !ok {
		return dst, fmt.Errorf("%w: %T is not a list", ErrValue, v)
	}
	if f.Mode == LengthFixed && len(list) > f.Size {
		return dst, fmt.Errorf("%w: %d elements exceed fixed count %d", ErrValue, len(list), f.Size)
	}

	n := len(list)
	if f.Mode == LengthFixed {
		n = f.Size
	}
	for i := 0; i < n; i++ {
		var elem any
		if i < len(list) {
			elem = list[i]
		}
		start := len(dst)
		var err error
		dst, err = encodeField(dst, f.Elem, elem, base)
		if err != nil {
			return dst, wrapField(fmt.Sprintf("[%d]", i), start-base, err)
		}
	}

	return dst, nil
}

func (s *Schema) size(rec Record) (int, error) {
	rec = s.withLengths(rec)
	total := 0
	for i := range s.fields {
		f := &s.fields[i]
		n, err := sizeField(f, valueOf(rec, f))
		if err != nil {
			return 0, wrapField(f.Name, total, err)
		}
		total += n
	}

	return total, nil
}

func sizeField(f *Field, v any) (int, error) {
	if n, ok := f.fixedSize(); ok {
		return n, nil
	}

	switch f.Kind {
	case KindString, KindBytes:
		b, err := blobValue(v)
		if err != nil {
			return 0, err
		}
		if f.Kind == KindString && (f.Mode == LengthTerminated || (f.Mode == LengthRest && !f.Raw)) {
			return len(b) + 1, nil
		}
		return len(b), nil

	case KindArray:
		list, ok := toList(v)
		if !ok {
			return 0, fmt.Errorf("%w: %T is not a list", ErrValue, v)
		}
		n := len(list)
		if f.Mode == LengthFixed {
			n = f.Size
		}
		total := 0
		for i := 0; i < n; i++ {
			var elem any
			if i < len(list) {
				elem = list[i]
			}
			sz, err := sizeField(f.Elem, elem)
			if err != nil {
				return 0, wrapField(fmt.Sprintf("[%d]", i), total, err)
			}
			total += sz
		}
		return total, nil

	case KindStruct:
		rec, ok := toRecord(v)
		if !ok {
			return 0, fmt.Errorf("%w: %T is not a record", ErrValue, v)
		}
		n, err := f.Schema.size(rec)
		if err != nil {
			return 0, err
		}
		if f.Prefix != nil {
			n += f.Prefix.Size
		}
		return n, nil
	}

	return 0, fmt.Errorf("%w: unknown kind %v", ErrSchema, f.Kind)
}
