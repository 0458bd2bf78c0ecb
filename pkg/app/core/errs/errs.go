// Package errs defines the error taxonomy shared by the exchange core.
//
// Every caller-facing failure carries a Kind so transports can map it to a
// response without string matching:
//
//	Validation           bad input, rejected at admission, no state change
//	InsufficientResource balance or holding too low, rejected at admission
//	InvalidTransition    lifecycle violation (cancel of a terminal order, wrong owner)
//	InvariantViolation   reservation accounting failed; fatal for the instrument
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error.
type Kind int8

const (
	Validation Kind = iota + 1
	InsufficientResource
	InvalidTransition
	InvariantViolation
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case InsufficientResource:
		return "insufficient_resource"
	case InvalidTransition:
		return "invalid_transition"
	case InvariantViolation:
		return "invariant_violation"
	default:
		return "unknown"
	}
}

// Sentinels usable with errors.Is to test an error's kind.
var (
	ErrValidation           = &Error{Kind: Validation}
	ErrInsufficientResource = &Error{Kind: InsufficientResource}
	ErrInvalidTransition    = &Error{Kind: InvalidTransition}
	ErrInvariantViolation   = &Error{Kind: InvariantViolation}
)

// Error is a classified error. Op names the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = msg + ": " + e.Err.Error()
		}
	}
	if e.Op == "" {
		return fmt.Sprintf("%s: %s", e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports a match when target is a kind sentinel of the same kind, or the
// same *Error value.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t == e {
		return true
	}
	return t.Op == "" && t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

// New returns a classified error with a formatted message.
func New(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under kind. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first classified error in err's chain, or 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsFatal reports whether err signals broken reservation accounting.
func IsFatal(err error) bool {
	return KindOf(err) == InvariantViolation
}
