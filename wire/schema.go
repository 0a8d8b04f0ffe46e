package wire

import (
	"fmt"
)

// Schema is an ordered list of field descriptors describing one structure.
//
// A Schema is immutable once created and safe for concurrent use.
type Schema struct {
	name   string
	fields []Field
	// refs maps a length field name to the names of the fields it sizes.
	refs map[string][]string
}

// NewSchema creates a schema from fields.
//
// NewSchema panics with an *Error wrapping ErrSchema when the definition is
// inconsistent: duplicate names, unsupported integer widths, a length
// reference to a missing or later field, a remainder field that is not last,
// or bitfields wider than their parent.
func NewSchema(name string, fields ...Field) *Schema {
	s := &Schema{
		name:   name,
		fields: fields,
		refs:   make(map[string][]string),
	}
	if err := s.validate(); err != nil {
		panic(toError(name, err))
	}

	return s
}

// Name returns the schema name.
func (s *Schema) Name() string { return s.name }

// Fields returns a copy of the field descriptors.
func (s *Schema) Fields() []Field {
	out := make([]Field, len(s.fields))
	copy(out, s.fields)

	return out
}

func (s *Schema) validate() error {
	seen := make(map[string]Kind, len(s.fields))
	for i := range s.fields {
		f := &s.fields[i]
		if f.Name == "" {
			return wrapField(fmt.Sprintf("#%d", i), 0, fmt.Errorf("%w: unnamed field", ErrSchema))
		}
		if _, dup := seen[f.Name]; dup {
			return wrapField(f.Name, 0, fmt.Errorf("%w: duplicate field", ErrSchema))
		}
		if err := validateField(f); err != nil {
			return wrapField(f.Name, 0, err)
		}
		if f.Mode == LengthRest && i != len(s.fields)-1 {
			return wrapField(f.Name, 0, fmt.Errorf("%w: remainder field must be last", ErrSchema))
		}
		if f.Mode == LengthRef {
			kind, ok := seen[f.LengthRef]
			if !ok || (kind != KindUint && kind != KindEnum) {
				return wrapField(f.Name, 0, fmt.Errorf("%w: length reference %q is not an earlier unsigned field", ErrSchema, f.LengthRef))
			}
			s.refs[f.LengthRef] = append(s.refs[f.LengthRef], f.Name)
		}
		seen[f.Name] = f.Kind
	}

	return nil
}

func validateField(f *Field) error {
	switch f.Kind {
	case KindUint, KindInt, KindEnum:
		if !validWidth(f.Size) {
			return fmt.Errorf("%w: unsupported integer width %d", ErrSchema, f.Size)
		}
		if f.Kind == KindEnum && f.Enum == nil {
			return fmt.Errorf("%w: enum without domain", ErrSchema)
		}
	case KindBitfield:
		if !validWidth(f.Size) {
			return fmt.Errorf("%w: unsupported bitfield width %d", ErrSchema, f.Size)
		}
		total := 0
		for _, b := range f.Bits {
			if b.Width <= 0 {
				return fmt.Errorf("%w: bit width of %q must be positive", ErrSchema, b.Name)
			}
			total += b.Width
		}
		if total > f.Size*8 {
			return fmt.Errorf("%w: %d bits do not fit in %d bytes", ErrSchema, total, f.Size)
		}
	case KindString, KindBytes:
		if f.Mode == LengthTerminated && f.Kind != KindString {
			return fmt.Errorf("%w: only strings may be NUL-terminated", ErrSchema)
		}
		if f.Mode == LengthFixed && f.Size < 0 {
			return fmt.Errorf("%w: negative length", ErrSchema)
		}
	case KindArray:
		if f.Elem == nil {
			return fmt.Errorf("%w: array without element", ErrSchema)
		}
		if f.Elem.Mode == LengthRef || f.Elem.Mode == LengthRest {
			return fmt.Errorf("%w: array element must be self-delimiting", ErrSchema)
		}
		return validateField(f.Elem)
	case KindStruct:
		if f.Schema == nil {
			return fmt.Errorf("%w: struct without schema", ErrSchema)
		}
		if f.Prefix != nil && (f.Prefix.Kind != KindUint || !validWidth(f.Prefix.Size)) {
			return fmt.Errorf("%w: size prefix must be an unsigned integer", ErrSchema)
		}
	default:
		return fmt.Errorf("%w: unknown kind %v", ErrSchema, f.Kind)
	}

	return nil
}

func validWidth(n int) bool {
	return n == 1 || n == 2 || n == 4 || n == 8
}

// FixedSize reports the serialized length of the schema when it does not
// depend on any value.
func (s *Schema) FixedSize() (int, bool) {
	total := 0
	for i := range s.fields {
		n, ok := s.fields[i].fixedSize()
		if !ok {
			return 0, false
		}
		total += n
	}

	return total, true
}

// Size returns the serialized length of rec without serializing it.
func (s *Schema) Size(rec Record) (int, error) {
	n, err := s.size(rec)

	return n, toError(s.name, err)
}

// Serialize encodes rec. Missing values take the field default or zero.
func (s *Schema) Serialize(rec Record) ([]byte, error) {
	return s.AppendTo(nil, rec)
}

// AppendTo encodes rec and appends the result to dst.
func (s *Schema) AppendTo(dst []byte, rec Record) ([]byte, error) {
	out, err := s.encode(dst, rec, len(dst))
	if err != nil {
		return dst, toError(s.name, err)
	}

	return out, nil
}

// Deserialize decodes one structure from the start of b and reports how many
// bytes were consumed. A size-prefixed structure ending the schema may claim
// more bytes than b holds; it is then decoded from the rest of b.
func (s *Schema) Deserialize(b []byte) (Record, int, error) {
	d := &decoder{input: b, tail: true}
	rec, err := d.decodeSchema(s)
	if err != nil {
		return nil, d.pos, toError(s.name, err)
	}

	return rec, d.pos, nil
}

// withLengths returns rec with every unset length field filled in from the
// length of the value it sizes.
func (s *Schema) withLengths(rec Record) Record {
	if len(s.refs) == 0 {
		return rec
	}

	var out Record
	for ref, targets := range s.refs {
		if _, ok := rec[ref]; ok {
			continue
		}
		if out == nil {
			out = make(Record, len(rec)+len(s.refs))
			for k, v := range rec {
				out[k] = v
			}
		}
		out[ref] = uint64(valueLen(rec[targets[0]]))
	}
	if out == nil {
		return rec
	}

	return out
}

func valueLen(v any) int {
	switch x := v.(type) {
	case string:
		return len(x)
	case []byte:
		return len(x)
	default:
		l, _ := toList(v)
		return len(l)
	}
}
