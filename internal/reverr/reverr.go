// Package reverr defines the error taxonomy shared across the storage
// engine. Every component raises one of these kinds so callers can branch
// on failure category without depending on a specific package's sentinel
// errors.
package reverr

import (
	"errors"
	"fmt"
)

// Kind classifies an engine error.
type Kind int

const (
	// KindIncompatibleRepository means the on-disk version sentinel is
	// not in the set of formats this build understands.
	KindIncompatibleRepository Kind = iota
	// KindInvalidRepository means the sentinel is fine but the database
	// or config.json could not be read.
	KindInvalidRepository
	// KindNotAWorkDirectory means the hidden metadata directory is
	// absent.
	KindNotAWorkDirectory
	// KindDuplicateRecord means a uniqueness invariant was violated,
	// e.g. (snapshot, path) or (timeline, revision).
	KindDuplicateRecord
	// KindDataCorrupt means reconstructed bytes failed a checksum check,
	// or the database integrity probe failed.
	KindDataCorrupt
	// KindInvalidInput means caller-supplied data was malformed: bad
	// hex, unknown ignore-matcher type, non-positive block size.
	KindInvalidInput
	// KindIO wraps an underlying filesystem failure.
	KindIO
	// KindCancelled means a task future was cancelled before running.
	KindCancelled
	// KindInternal means an invariant was violated that should be
	// impossible under correct operation (e.g. a revision race).
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindIncompatibleRepository:
		return "IncompatibleRepository"
	case KindInvalidRepository:
		return "InvalidRepository"
	case KindNotAWorkDirectory:
		return "NotAWorkDirectory"
	case KindDuplicateRecord:
		return "DuplicateRecord"
	case KindDataCorrupt:
		return "DataCorrupt"
	case KindInvalidInput:
		return "InvalidInput"
	case KindIO:
		return "IO"
	case KindCancelled:
		return "Cancelled"
	case KindInternal:
		return "Internal"
	default:
		return "Unknown"
	}
}

// Error is the concrete error type returned by this module's packages.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an Error with no wrapped cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf creates an Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error that carries an underlying cause.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Wrapf creates an Error with a formatted message and an underlying cause.
func Wrapf(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// Is reports whether err is a *Error of the given kind, unwrapping as
// necessary.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf returns the Kind of err if it is (or wraps) a *Error, and false
// otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
