// Package cxlerr defines the fabric's error kinds as a small structured
// Error type plus a Code enum, grounded on api/errors.go's
// Error{Code, Message, Context} shape: errors.Is matches two *Error values
// by Code alone, so callers can branch on kind without string matching.
package cxlerr

import "fmt"

// Code enumerates the fabric's error kinds.
type Code int

const (
	CodeParseError Code = iota
	CodeInvalidOpcode
	CodeInvalidLdID
	CodeVppbOutOfRange
	CodePortTypeMismatch
	CodeAlreadyBound
	CodeNotBound
	CodeConnectionClosed
	CodeTimeout
)

func (c Code) String() string {
	switch c {
	case CodeParseError:
		return "ParseError"
	case CodeInvalidOpcode:
		return "InvalidOpcode"
	case CodeInvalidLdID:
		return "InvalidLdId"
	case CodeVppbOutOfRange:
		return "VppbOutOfRange"
	case CodePortTypeMismatch:
		return "PortTypeMismatch"
	case CodeAlreadyBound:
		return "AlreadyBound"
	case CodeNotBound:
		return "NotBound"
	case CodeConnectionClosed:
		return "ConnectionClosed"
	case CodeTimeout:
		return "Timeout"
	default:
		return "Unknown"
	}
}

// Error is a structured, contextualized error carrying one of the Code
// kinds above.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New constructs an *Error with the given code and message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Is reports whether target is an *Error with the same Code, enabling
// errors.Is(err, cxlerr.New(cxlerr.CodeNotBound, "")) style checks by code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}
