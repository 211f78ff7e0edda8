// Package tsdberr implements the stable error-kind catalog and the
// "TSDB: ..." message surface every external interface (wire codec, command
// layer, CLI) reports back through.
package tsdberr

import (
	"errors"
	"fmt"
)

// Kind classifies an error into one of the stable kinds the external
// interfaces are allowed to expose.
type Kind int

const (
	// Internal covers anything that doesn't fit a more specific kind;
	// invariant violations are downgraded to this before reaching a client.
	Internal Kind = iota
	ParseError
	ArgumentError
	NotFound
	DuplicateSeries
	PermissionDenied
	InternalCodecError
	Timeout
	ShardFailure
	ResourceExhausted
)

func (k Kind) String() string {
	switch k {
	case ParseError:
		return "ParseError"
	case ArgumentError:
		return "ArgumentError"
	case NotFound:
		return "NotFound"
	case DuplicateSeries:
		return "DuplicateSeries"
	case PermissionDenied:
		return "PermissionDenied"
	case InternalCodecError:
		return "InternalCodecError"
	case Timeout:
		return "Timeout"
	case ShardFailure:
		return "ShardFailure"
	case ResourceExhausted:
		return "ResourceExhausted"
	default:
		return "Internal"
	}
}

// Error is a typed error carrying a stable Kind and the "TSDB: ..." surface
// message wrapping an optional underlying cause.
type Error struct {
	Kind Kind
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("TSDB: %s: %v", e.msg, e.err)
	}
	return fmt.Sprintf("TSDB: %s", e.msg)
}

func (e *Error) Unwrap() error { return e.err }

// Message returns the surface message without the "TSDB: " prefix, for
// carriers (like the wire codec) that re-wrap the error on the other side.
func (e *Error) Message() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.err)
	}
	return e.msg
}

// New builds a Kind-tagged error with a formatted message and no wrapped
// cause.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Wrap builds a Kind-tagged error wrapping an underlying cause.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, msg: fmt.Sprintf(format, args...), err: err}
}

// As reports whether err (or something it wraps) is a *Error, returning it.
func As(err error) (*Error, bool) {
	var te *Error
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

// KindOf returns the Kind of err if it is (or wraps) a *Error, or Internal
// otherwise.
func KindOf(err error) Kind {
	if te, ok := As(err); ok {
		return te.Kind
	}
	return Internal
}

// IsNotFound reports whether err is a NotFound *Error.
func IsNotFound(err error) bool {
	return KindOf(err) == NotFound
}
