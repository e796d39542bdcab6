package tpie

import (
	"github.com/dropbox/godropbox/errors"
)

// Kind classifies every failure the library can surface.  Operations
// return an *Error carrying one of these values; callers branch on
// KindOf rather than on message text.
type Kind int

const (
	NoError Kind = iota
	IOError
	EndOfStream
	OutOfRange
	PermissionDenied
	OutOfMemory
	EnvUndefined
	FormatMismatch
	AlreadyExists
	NotFound
)

func (k Kind) String() string {
	switch k {
	case NoError:
		return "no error"
	case IOError:
		return "I/O error"
	case EndOfStream:
		return "end of stream"
	case OutOfRange:
		return "out of range"
	case PermissionDenied:
		return "permission denied"
	case OutOfMemory:
		return "out of memory"
	case EnvUndefined:
		return "environment variable undefined"
	case FormatMismatch:
		return "format mismatch"
	case AlreadyExists:
		return "already exists"
	case NotFound:
		return "not found"
	default:
		return "unknown error"
	}
}

// Error pairs a Kind with a stack-traced cause.
type Error struct {
	kind  Kind
	cause error
}

func (e *Error) Error() string {
	return e.kind.String() + ": " + e.cause.Error()
}

func (e *Error) Unwrap() error {
	return e.cause
}

func (e *Error) Kind() Kind {
	return e.kind
}

func NewError(kind Kind, msg string) *Error {
	return &Error{kind: kind, cause: errors.New(msg)}
}

func Errorf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{kind: kind, cause: errors.Newf(format, args...)}
}

// WrapError attaches a Kind to an underlying error (typically an OS
// level failure) while preserving it for Unwrap.
func WrapError(kind Kind, err error, msg string) *Error {
	return &Error{kind: kind, cause: errors.Wrap(err, msg)}
}

func WrapErrorf(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{kind: kind, cause: errors.Wrapf(err, format, args...)}
}

// KindOf extracts the Kind from err; NoError for nil, IOError for
// errors that did not originate in this library.
func KindOf(err error) Kind {
	if err == nil {
		return NoError
	}
	if e, ok := err.(*Error); ok {
		return e.kind
	}
	return IOError
}

// IsEndOfStream reports whether err marks the non-fatal end of a
// stream.
func IsEndOfStream(err error) bool {
	return KindOf(err) == EndOfStream
}
