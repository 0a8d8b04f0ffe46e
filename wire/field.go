package wire

import (
	"encoding/binary"
	"fmt"
	"sort"
)

// Kind identifies the codec used for a field.
type Kind uint8

const (
	KindUint Kind = iota + 1
	KindInt
	KindEnum
	KindBitfield
	KindString
	KindBytes
	KindArray
	KindStruct
)

func (k Kind) String() string {
	switch k {
	case KindUint:
		return "uint"
	case KindInt:
		return "int"
	case KindEnum:
		return "enum"
	case KindBitfield:
		return "bitfield"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindArray:
		return "array"
	case KindStruct:
		return "struct"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// LengthMode selects how a variable field finds its length.
type LengthMode uint8

const (
	// LengthFixed uses Field.Size bytes (strings, bytes) or elements (arrays).
	LengthFixed LengthMode = iota
	// LengthRef reads the length from the earlier field named by Field.LengthRef.
	LengthRef
	// LengthRest consumes the remaining input. Only the last field may use it.
	LengthRest
	// LengthTerminated reads up to and including a NUL byte (strings only).
	LengthTerminated
)

// ByteOrder is a byte order able to both read and append integers.
// binary.BigEndian and binary.LittleEndian implement it.
type ByteOrder interface {
	binary.ByteOrder
	binary.AppendByteOrder
}

// Bits is one sub-field of a bitfield.
type Bits struct {
	Name  string
	Width int
}

// Field describes one field of a Schema.
//
// Fields are plain data; build them with the constructor functions and
// refine them with the chainable methods, which return modified copies.
type Field struct {
	Name string
	Kind Kind
	// Size is the integer width in bytes, or the fixed byte/element count.
	Size int
	// Order is the integer byte order; nil means big-endian.
	Order ByteOrder
	Mode  LengthMode
	// LengthRef names the earlier integer field holding the length or count.
	LengthRef string
	// Bits lists the packed sub-fields of a bitfield, most significant first.
	Bits []Bits
	// Enum is the named domain of an enum field.
	Enum *Enum
	// Elem is the element descriptor of an array; its Name is ignored.
	Elem *Field
	// Schema is the nested structure of a struct field.
	Schema *Schema
	// Prefix, when set on a struct field, is an integer field written before
	// the structure holding the size of prefix plus structure.
	Prefix *Field
	// Default is encoded when the record has no value for the field.
	Default any
	// Raw turns off NUL handling of a remainder string.
	Raw bool
}

func intField(name string, kind Kind, size int) Field {
	return Field{Name: name, Kind: kind, Size: size}
}

// Uint8 describes an unsigned 8-bit integer.
func Uint8(name string) Field { return intField(name, KindUint, 1) }

// Uint16 describes a big-endian unsigned 16-bit integer.
func Uint16(name string) Field { return intField(name, KindUint, 2) }

// Uint32 describes a big-endian unsigned 32-bit integer.
func Uint32(name string) Field { return intField(name, KindUint, 4) }

// Uint64 describes a big-endian unsigned 64-bit integer.
func Uint64(name string) Field { return intField(name, KindUint, 8) }

// Int8 describes a signed 8-bit integer.
func Int8(name string) Field { return intField(name, KindInt, 1) }

// Int16 describes a big-endian signed 16-bit integer.
func Int16(name string) Field { return intField(name, KindInt, 2) }

// Int32 describes a big-endian signed 32-bit integer.
func Int32(name string) Field { return intField(name, KindInt, 4) }

// Padding describes reserved bytes, encoded as zero unless the record sets them.
func Padding(name string, size int) Field { return intField(name, KindUint, size) }

// FixedString describes a NUL-padded string occupying exactly n bytes.
func FixedString(name string, n int) Field {
	return Field{Name: name, Kind: KindString, Size: n, Mode: LengthFixed}
}

// CString describes a NUL-terminated string.
func CString(name string) Field {
	return Field{Name: name, Kind: KindString, Mode: LengthTerminated}
}

// RestString describes a string filling the rest of the input. It decodes up
// to the first NUL and always encodes one trailing NUL, so a buffer whose
// trailing string lacks the NUL encodes back one byte longer. Use
// RawRestString where the exact bytes must survive a decode and encode.
func RestString(name string) Field {
	return Field{Name: name, Kind: KindString, Mode: LengthRest}
}

// RawRestString describes a string filling the rest of the input, taken
// verbatim: no NUL is trimmed on decode and none is added on encode.
func RawRestString(name string) Field {
	return Field{Name: name, Kind: KindString, Mode: LengthRest, Raw: true}
}

// StringRef describes a string whose byte length is held by field ref.
// Decoding stops at the first NUL inside that length.
func StringRef(name, ref string) Field {
	return Field{Name: name, Kind: KindString, Mode: LengthRef, LengthRef: ref}
}

// Bytes describes a fixed-length byte blob.
func Bytes(name string, n int) Field {
	return Field{Name: name, Kind: KindBytes, Size: n, Mode: LengthFixed}
}

// BytesRef describes a byte blob whose length is held by field ref.
func BytesRef(name, ref string) Field {
	return Field{Name: name, Kind: KindBytes, Mode: LengthRef, LengthRef: ref}
}

// RestBytes describes a byte blob filling the rest of the input.
func RestBytes(name string) Field {
	return Field{Name: name, Kind: KindBytes, Mode: LengthRest}
}

// Array describes exactly n elements of elem.
func Array(name string, elem Field, n int) Field {
	return Field{Name: name, Kind: KindArray, Size: n, Mode: LengthFixed, Elem: &elem}
}

// ArrayRef describes elements of elem whose count is held by field ref.
func ArrayRef(name string, elem Field, ref string) Field {
	return Field{Name: name, Kind: KindArray, Mode: LengthRef, LengthRef: ref, Elem: &elem}
}

// RestArray describes elements of elem filling the rest of the input.
func RestArray(name string, elem Field) Field {
	return Field{Name: name, Kind: KindArray, Mode: LengthRest, Elem: &elem}
}

// Struct describes a nested structure.
func Struct(name string, s *Schema) Field {
	return Field{Name: name, Kind: KindStruct, Schema: s}
}

// SizedStruct describes a nested structure preceded by the integer prefix,
// whose value is the byte size of prefix and structure together. When
// decoding, the structure sees only its own bytes, so a trailing remainder
// field stops at the recorded size.
func SizedStruct(name string, prefix Field, s *Schema) Field {
	prefix.Name = name + ".size"

	return Field{Name: name, Kind: KindStruct, Schema: s, Prefix: &prefix}
}

// Bitfield describes sub-fields packed MSB-first into an unsigned integer of
// size bytes.
func Bitfield(name string, size int, bits ...Bits) Field {
	return Field{Name: name, Kind: KindBitfield, Size: size, Bits: bits}
}

// LE returns a copy of the integer field using little-endian byte order.
func (f Field) LE() Field {
	f.Order = binary.LittleEndian

	return f
}

// WithDefault returns a copy of the field encoding v when a value is missing.
func (f Field) WithDefault(v any) Field {
	f.Default = v

	return f
}

// WithEnum returns a copy of the unsigned field turned into an enum of e.
func (f Field) WithEnum(e *Enum) Field {
	f.Kind = KindEnum
	f.Enum = e

	return f
}

func (f *Field) order() ByteOrder {
	if f.Order == nil {
		return binary.BigEndian
	}

	return f.Order
}

// fixedSize reports the encoded size of f when it does not depend on the value.
func (f *Field) fixedSize() (int, bool) {
	switch f.Kind {
	case KindUint, KindInt, KindEnum, KindBitfield:
		return f.Size, true
	case KindString, KindBytes:
		if f.Mode == LengthFixed {
			return f.Size, true
		}
	case KindArray:
		if f.Mode == LengthFixed {
			n, ok := f.Elem.fixedSize()
			return n * f.Size, ok
		}
	case KindStruct:
		if f.Prefix != nil {
			return 0, false
		}

		return f.Schema.FixedSize()
	}

	return 0, false
}

// Enum is a named integer domain.
type Enum struct {
	name   string
	names  map[uint64]string
	values map[string]uint64
}

// NewEnum creates an enum domain from value/name pairs.
func NewEnum(name string, domain map[uint64]string) *Enum {
	e := &Enum{
		name:   name,
		names:  make(map[uint64]string, len(domain)),
		values: make(map[string]uint64, len(domain)),
	}
	for v, n := range domain {
		e.names[v] = n
		e.values[n] = v
	}

	return e
}

// Lookup returns the name of v and whether v is inside the domain.
func (e *Enum) Lookup(v uint64) (string, bool) {
	n, ok := e.names[v]

	return n, ok
}

// Value returns the value registered under name.
func (e *Enum) Value(name string) (uint64, bool) {
	v, ok := e.values[name]

	return v, ok
}

// Name returns the name of v, or a hex placeholder for undocumented values.
func (e *Enum) Name(v uint64) string {
	if n, ok := e.names[v]; ok {
		return n
	}

	return fmt.Sprintf("%s(0x%02X)", e.name, v)
}

// Names returns the domain names sorted by value.
func (e *Enum) Names() []string {
	vals := make([]uint64, 0, len(e.names))
	for v := range e.names {
		vals = append(vals, v)
	}
	sort.Slice(vals, func(i, j int) bool { return vals[i] < vals[j] })

	out := make([]string, len(vals))
	for i, v := range vals {
		out[i] = e.names[v]
	}

	return out
}
