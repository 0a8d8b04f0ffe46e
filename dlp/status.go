package dlp

import (
	"errors"
	"fmt"
)

// Status is the result code of a DLP response.
type Status uint16

const (
	StatusOK Status = iota
	StatusSystem
	StatusIllegalRequest
	StatusMemory
	StatusParam
	StatusNotFound
	StatusNoneOpen
	StatusAlreadyOpen
	StatusTooManyOpen
	StatusAlreadyExists
	StatusOpen
	StatusDeleted
	StatusBusy
	StatusNotSupported
	StatusUnused
	StatusReadOnly
	StatusNotEnoughSpace
	StatusLimitExceeded
	StatusCancelSync
	StatusBadWrapper
	StatusArgMissing
	StatusArgSize
)

var statusNames = [...]string{
	StatusOK:             "OK",
	StatusSystem:         "SYSTEM",
	StatusIllegalRequest: "ILLEGAL_REQUEST",
	StatusMemory:         "MEMORY",
	StatusParam:          "PARAM",
	StatusNotFound:       "NOT_FOUND",
	StatusNoneOpen:       "NONE_OPEN",
	StatusAlreadyOpen:    "ALREADY_OPEN",
	StatusTooManyOpen:    "TOO_MANY_OPEN",
	StatusAlreadyExists:  "ALREADY_EXISTS",
	StatusOpen:           "OPEN",
	StatusDeleted:        "DELETED",
	StatusBusy:           "BUSY",
	StatusNotSupported:   "NOT_SUPPORTED",
	StatusUnused:         "UNUSED",
	StatusReadOnly:       "READ_ONLY",
	StatusNotEnoughSpace: "NOT_ENOUGH_SPACE",
	StatusLimitExceeded:  "LIMIT_EXCEEDED",
	StatusCancelSync:     "CANCEL_SYNC",
	StatusBadWrapper:     "BAD_WRAPPER",
	StatusArgMissing:     "ARG_MISSING",
	StatusArgSize:        "ARG_SIZE",
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}

	return fmt.Sprintf("Status(%d)", uint16(s))
}

// StatusError is returned when the device answers a request with a non-zero
// status.
type StatusError struct {
	Opcode Opcode
	Status Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("dlp: %s failed with status %s (%d)", e.Opcode, e.Status, uint16(e.Status))
}

// IsStatus reports whether err carries a StatusError with status s.
func IsStatus(err error, s Status) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status == s
	}

	return false
}
