package wire

import (
	"errors"
	"fmt"
)

var (
	// ErrTruncated indicates that the input ended before a field was complete.
	ErrTruncated = errors.New("wire: truncated input")

	// ErrValue indicates that a value cannot be encoded by its field.
	ErrValue = errors.New("wire: invalid field value")

	// ErrEnumDomain indicates that an enum was given a name outside its domain.
	ErrEnumDomain = errors.New("wire: enum name not in domain")

	// ErrSchema indicates a defect in a schema definition.
	ErrSchema = errors.New("wire: invalid schema")
)

// Error is the codec error returned by all Schema operations.
type Error struct {
	// Schema is the name of the outermost schema being processed.
	Schema string
	// Field is the dotted path of the failing field, e.g. "ports[1].portNumber".
	Field string
	// Offset is the byte offset of the failing field within the input or output.
	Offset int
	// Err is the underlying cause, one of the package sentinel errors.
	Err error
}

func (e *Error) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("wire: %s: %v", e.Schema, e.Err)
	}

	return fmt.Sprintf("wire: %s.%s at offset %d: %v", e.Schema, e.Field, e.Offset, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// fieldError is the internal error carrying a partial field path while the
// error bubbles out of nested schemas.
type fieldError struct {
	path   string
	offset int
	err    error
}

func (e *fieldError) Error() string { return e.path + ": " + e.err.Error() }

func (e *fieldError) Unwrap() error { return e.err }

// wrapField prefixes the path of err with name.
func wrapField(name string, offset int, err error) error {
	var fe *fieldError
	if errors.As(err, &fe) {
		sep := "."
		if len(fe.path) > 0 && fe.path[0] == '[' {
			sep = ""
		}

		return &fieldError{path: name + sep + fe.path, offset: fe.offset, err: fe.err}
	}

	return &fieldError{path: name, offset: offset, err: err}
}

// toError converts an internal error into the exported Error type.
func toError(schema string, err error) error {
	if err == nil {
		return nil
	}

	var fe *fieldError
	if errors.As(err, &fe) {
		return &Error{Schema: schema, Field: fe.path, Offset: fe.offset, Err: fe.err}
	}

	return &Error{Schema: schema, Err: err}
}
