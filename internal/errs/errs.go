// Package errs implements the chainable error taxonomy used across the
// datastore engine: every component boundary returns one of these kinds
// rather than a bare error, so callers can branch on Kind without string
// matching.
package errs

import (
	"errors"
	"fmt"
)

// Kind is the universal error taxonomy surfaced to callers.
type Kind string

const (
	OK               Kind = "OK"
	NotFound         Kind = "NOT_FOUND"
	Exists           Kind = "EXISTS"
	Unauthorized     Kind = "UNAUTHORIZED"
	InvalArg         Kind = "INVAL_ARG"
	ValidationFailed Kind = "VALIDATION_FAILED"
	Timeout          Kind = "TIMEOUT"
	CallbackFailed   Kind = "CALLBACK_FAILED"
	Sys              Kind = "SYS"
	Internal         Kind = "INTERNAL"
	Unsupported      Kind = "UNSUPPORTED"
)

// Error is the chainable error structure from the design notes: kind,
// message, an optional node path, and an optional cause. Primary and
// secondary errors are both retained rather than one replacing the other.
type Error struct {
	Kind      Kind
	Message   string
	Path      string
	Cause     error
	Secondary *Error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Path != "" {
		msg += " (path=" + e.Path + ")"
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	if e.Secondary != nil {
		msg += "; also: " + e.Secondary.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New builds an Error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error of the given kind around an existing cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// WithPath attaches a node path to an error (copy, non-mutating).
func (e *Error) WithPath(path string) *Error {
	cp := *e
	cp.Path = path
	return &cp
}

// Merge retains both errors: primary is surfaced, secondary is attached as
// a note. Used by the commit path when persistence succeeds but the
// change-notification delivery fails (§7/§9 of the spec).
func Merge(primary, secondary error) error {
	if primary == nil {
		return secondary
	}
	if secondary == nil {
		return primary
	}
	pe, ok := primary.(*Error)
	if !ok {
		pe = &Error{Kind: Internal, Message: primary.Error(), Cause: primary}
	}
	se, ok := secondary.(*Error)
	if !ok {
		se = &Error{Kind: Internal, Message: secondary.Error(), Cause: secondary}
	}
	cp := *pe
	if cp.Secondary != nil {
		cp.Secondary = Merge(cp.Secondary, se).(*Error)
	} else {
		cp.Secondary = se
	}
	return &cp
}

// KindOf extracts the Kind from an error, defaulting to Internal for
// errors that did not originate from this package.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if err == nil {
		return OK
	}
	return Internal
}

// Is reports whether err (or any error in its chain) carries the given
// Kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
