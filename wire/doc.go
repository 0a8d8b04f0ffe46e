// Package wire is the declarative binary structure codec shared by every
// HotSync protocol layer.
//
// A structure is described once as a [Schema]: an ordered list of [Field]
// descriptors, each naming a codec kind and its width, fixed length, or the
// name of an earlier field carrying a runtime length. One generic engine
// interprets the schema in both directions:
//
//	var portInfo = wire.NewSchema("ConnectionPortInfo",
//	    wire.Uint8("functionType").WithEnum(portFunctions),
//	    wire.Uint8("portNumber"),
//	)
//
//	rec, n, err := portInfo.Deserialize(buf)
//	out, err := portInfo.Serialize(wire.Record{"functionType": 2, "portNumber": 1})
//
// Values travel as [Record] maps. Unsigned integers and enums decode to
// uint64, signed integers to int64, strings to string, blobs to []byte,
// arrays to []any, and nested structures and bitfields to Record.
//
// # Field kinds
//
//   - Unsigned and signed integers of 1, 2, 4 or 8 bytes with a declared byte
//     order (big-endian unless LE is applied).
//   - Enums: integers with a named domain. Values outside the domain decode
//     without error, since firmware emits undocumented codes.
//   - Bitfields: sub-fields packed MSB-first inside a parent integer.
//   - Strings: fixed-length NUL-padded, NUL-terminated, or remainder.
//   - Bytes: fixed length, length taken from an earlier field, or remainder.
//   - Arrays: fixed count, count taken from an earlier field, or remainder.
//   - Structs: nested schemas, optionally preceded by a size prefix that
//     counts itself.
//
// # Errors
//
// Every failure is an [*Error] naming the schema, the field path and the
// byte offset. Running out of input wraps [ErrTruncated]; a value that
// cannot be represented wraps [ErrValue]. Schema defects are detected by
// [NewSchema], which panics, because schemas are package-level data.
package wire
