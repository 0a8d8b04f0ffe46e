package wire

// Record holds the values of one structure, keyed by field name.
//
// The typed getters return the zero value when a field is missing or holds
// another type, which keeps call sites that read decoded records short.
type Record map[string]any

// Uint returns the unsigned value of name.
func (r Record) Uint(name string) uint64 {
	v, _ := toUint64(r[name])
	return v
}

// Int returns the signed value of name.
func (r Record) Int(name string) int64 {
	v, _ := toInt64(r[name])
	return v
}

// String returns the string value of name.
func (r Record) String(name string) string {
	switch v := r[name].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return ""
	}
}

// Bytes returns the byte slice value of name.
func (r Record) Bytes(name string) []byte {
	switch v := r[name].(type) {
	case []byte:
		return v
	case string:
		return []byte(v)
	default:
		return nil
	}
}

// Record returns the nested record value of name.
func (r Record) Record(name string) Record {
	rec, _ := toRecord(r[name])
	return rec
}

// List returns the array value of name.
func (r Record) List(name string) []any {
	l, _ := toList(r[name])
	return l
}

// Records returns the array value of name as records.
func (r Record) Records(name string) []Record {
	l := r.List(name)
	out := make([]Record, 0, len(l))
	for _, v := range l {
		rec, _ := toRecord(v)
		out = append(out, rec)
	}

	return out
}

// Uints returns the array value of name as unsigned integers.
func (r Record) Uints(name string) []uint64 {
	l := r.List(name)
	out := make([]uint64, 0, len(l))
	for _, v := range l {
		u, _ := toUint64(v)
		out = append(out, u)
	}

	return out
}

func toUint64(v any) (uint64, bool) {
	switch n := v.(type) {
	case uint64:
		return n, true
	case uint:
		return uint64(n), true
	case uint8:
		return uint64(n), true
	case uint16:
		return uint64(n), true
	case uint32:
		return uint64(n), true
	case int:
		return uint64(n), n >= 0
	case int8:
		return uint64(n), n >= 0
	case int16:
		return uint64(n), n >= 0
	case int32:
		return uint64(n), n >= 0
	case int64:
		return uint64(n), n >= 0
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), n <= 1<<63-1
	case uint:
		return int64(n), uint64(n) <= 1<<63-1
	default:
		return 0, false
	}
}

func toRecord(v any) (Record, bool) {
	switch r := v.(type) {
	case Record:
		return r, true
	case map[string]any:
		return Record(r), true
	case nil:
		return nil, true
	default:
		return nil, false
	}
}

func toList(v any) ([]any, bool) {
	switch l := v.(type) {
	case nil:
		return nil, true
	case []any:
		return l, true
	case []Record:
		return convertList(l), true
	case []map[string]any:
		return convertList(l), true
	case []uint64:
		return convertList(l), true
	case []uint32:
		return convertList(l), true
	case []uint16:
		return convertList(l), true
	case []uint8:
		return convertList(l), true
	case []int64:
		return convertList(l), true
	case []int32:
		return convertList(l), true
	case []int:
		return convertList(l), true
	case []string:
		return convertList(l), true
	default:
		return nil, false
	}
}

func convertList[T any](in []T) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}

	return out
}
