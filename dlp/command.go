package dlp

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/Tavisco/palm-sync/wire"
)

// Sentinel errors for the DLP protocol.
var (
	ErrMalformed        = errors.New("dlp: malformed message")
	ErrOpcodeMismatch   = errors.New("dlp: response opcode does not match request")
	ErrMissingArg       = errors.New("dlp: required argument missing")
	ErrArgCount         = errors.New("dlp: wrong number of arguments")
	ErrUnknownCommand   = errors.New("dlp: unknown command")
	ErrRequestInFlight  = errors.New("dlp: another request is in flight")
	ErrNilRequest       = errors.New("dlp: nil request")
	ErrResponseNotFound = errors.New("dlp: result not present in response")
)

const (
	requestHeaderSize  = 2
	responseHeaderSize = 4

	responseFlag byte = 0x80
)

// ArgSpec describes one argument of a request or one result of a response.
type ArgSpec struct {
	ID     byte
	Schema *wire.Schema
	// Optional arguments may be omitted from the message.
	Optional bool
}

// Command describes one DLP function: its opcode and the schemas of its
// request arguments and response results.
type Command struct {
	Name    string
	Opcode  Opcode
	Args    []ArgSpec
	Results []ArgSpec
}

func (c *Command) String() string { return c.Name }

// Request is a command invocation. Args holds one record per entry of
// Command.Args; a nil record omits an optional argument.
type Request struct {
	Command *Command
	Args    []wire.Record
}

// NewRequest returns a request for c with the given argument records.
func (c *Command) NewRequest(args ...wire.Record) *Request {
	return &Request{Command: c, Args: args}
}

// Response is a decoded command response. Results holds one record per
// entry of Command.Results; absent optional results are nil.
type Response struct {
	Command *Command
	Status  Status
	Results []wire.Record
}

// Result returns result i, or an error wrapping ErrResponseNotFound when the
// device did not send it.
func (r *Response) Result(i int) (wire.Record, error) {
	if i < 0 || i >= len(r.Results) || r.Results[i] == nil {
		return nil, fmt.Errorf("%w: %s result %d", ErrResponseNotFound, r.Command.Name, i)
	}

	return r.Results[i], nil
}

// Marshal encodes the request as [opcode][argc] followed by its arguments.
func (r *Request) Marshal() ([]byte, error) {
	cmd := r.Command
	if len(r.Args) > len(cmd.Args) {
		return nil, fmt.Errorf("%w: %s takes %d arguments, got %d", ErrArgCount, cmd.Name, len(cmd.Args), len(r.Args))
	}

	args, err := encodeArgs(cmd.Name, cmd.Args, r.Args)
	if err != nil {
		return nil, err
	}

	buf := []byte{byte(cmd.Opcode), byte(len(args))}
	for _, a := range args {
		buf = appendArg(buf, a)
	}

	return buf, nil
}

// MarshalResponse encodes a response to c as [opcode|0x80][argc][status]
// followed by the results. It is the device side of the protocol, used by
// simulators.
func (c *Command) MarshalResponse(status Status, results ...wire.Record) ([]byte, error) {
	var args []Arg
	if status == StatusOK {
		var err error
		if args, err = encodeArgs(c.Name, c.Results, results); err != nil {
			return nil, err
		}
	}

	buf := []byte{byte(c.Opcode) | responseFlag, byte(len(args))}
	buf = binary.BigEndian.AppendUint16(buf, uint16(status))
	for _, a := range args {
		buf = appendArg(buf, a)
	}

	return buf, nil
}

// MarshalStatus encodes a response without results to any opcode.
func MarshalStatus(op Opcode, status Status) []byte {
	buf := []byte{byte(op) | responseFlag, 0}

	return binary.BigEndian.AppendUint16(buf, uint16(status))
}

func encodeArgs(name string, specs []ArgSpec, recs []wire.Record) ([]Arg, error) {
	args := make([]Arg, 0, len(specs))
	for i, spec := range specs {
		var rec wire.Record
		if i < len(recs) {
			rec = recs[i]
		}
		if rec == nil && spec.Optional {
			continue
		}

		data, err := spec.Schema.Serialize(rec)
		if err != nil {
			return nil, fmt.Errorf("dlp: %s argument 0x%02X: %w", name, spec.ID, err)
		}
		args = append(args, Arg{ID: spec.ID, Data: data})
	}

	return args, nil
}

func decodeArgs(name string, specs []ArgSpec, args []Arg) ([]wire.Record, error) {
	recs := make([]wire.Record, len(specs))
	for i, spec := range specs {
		data, ok := findArg(args, spec.ID)
		if !ok {
			if spec.Optional {
				continue
			}
			return nil, fmt.Errorf("%w: %s argument 0x%02X", ErrMissingArg, name, spec.ID)
		}

		rec, _, err := spec.Schema.Deserialize(data)
		if err != nil {
			return nil, fmt.Errorf("dlp: %s argument 0x%02X: %w", name, spec.ID, err)
		}
		recs[i] = rec
	}

	return recs, nil
}

func findArg(args []Arg, id byte) ([]byte, bool) {
	for _, a := range args {
		if a.ID == id {
			return a.Data, true
		}
	}

	return nil, false
}

// ParseResponse decodes a response to cmd.
//
// A response to another opcode returns ErrOpcodeMismatch. A non-zero status
// returns the response together with a *StatusError; results are only
// decoded for successful responses.
func ParseResponse(cmd *Command, b []byte) (*Response, error) {
	if len(b) < responseHeaderSize {
		return nil, fmt.Errorf("%w: response of %d bytes", ErrMalformed, len(b))
	}
	if b[0]&responseFlag == 0 || Opcode(b[0]&^responseFlag) != cmd.Opcode {
		return nil, fmt.Errorf("%w: sent %s, got 0x%02X", ErrOpcodeMismatch, cmd.Opcode, b[0])
	}

	resp := &Response{
		Command: cmd,
		Status:  Status(binary.BigEndian.Uint16(b[2:4])),
	}
	if resp.Status != StatusOK {
		return resp, &StatusError{Opcode: cmd.Opcode, Status: resp.Status}
	}

	args, err := parseArgs(b[responseHeaderSize:], int(b[1]))
	if err != nil {
		return nil, err
	}

	if resp.Results, err = decodeArgs(cmd.Name, cmd.Results, args); err != nil {
		return nil, err
	}

	return resp, nil
}

// ParseRequest decodes the header and raw arguments of a request. It is the
// device side of the protocol, used by simulators.
func ParseRequest(b []byte) (Opcode, []Arg, error) {
	if len(b) < requestHeaderSize {
		return 0, nil, fmt.Errorf("%w: request of %d bytes", ErrMalformed, len(b))
	}

	args, err := parseArgs(b[requestHeaderSize:], int(b[1]))
	if err != nil {
		return 0, nil, err
	}

	return Opcode(b[0]), args, nil
}

// DecodeArgs decodes the raw request arguments of c into records, one per
// entry of c.Args.
func (c *Command) DecodeArgs(args []Arg) ([]wire.Record, error) {
	return decodeArgs(c.Name, c.Args, args)
}
