package kv

import "github.com/pkg/errors"

// Kind classifies every error the engine can return, per the taxonomy in
// the design's error-handling section. Callers switch on Kind rather than
// on error strings.
type Kind int

const (
	// DBError wraps a failure from the underlying MDBX store.
	DBError Kind = iota
	// KeyErr marks a malformed key segment; it indicates a caller bug.
	KeyErr
	// UnknownKeyErr marks a required STATE/BLOCK key that was not found.
	UnknownKeyErr
	// CodingErr marks a structured value that failed to decode.
	CodingErr
	// RawCodingErr marks a raw-serialized payload (block header, replay
	// entry) that failed to decode outside the canonical codec.
	RawCodingErr
	// TemporaryErr marks data that is essential for block reconstruction
	// but is missing, e.g. because it was pruned.
	TemporaryErr
)

func (k Kind) String() string {
	switch k {
	case DBError:
		return "DBError"
	case KeyErr:
		return "KeyError"
	case UnknownKeyErr:
		return "UnknownKey"
	case CodingErr:
		return "CodingError"
	case RawCodingErr:
		return "RawCodingError"
	case TemporaryErr:
		return "Temporary"
	default:
		return "Unknown"
	}
}

// Error is the single error type every public function in this module
// returns. It carries a Kind so callers can make recovery decisions
// without string matching, and wraps the underlying cause so Cause()
// still reaches the original mdbx.Error.
type Error struct {
	Kind Kind
	Msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return e.Kind.String() + ": " + e.Msg + ": " + e.err.Error()
	}
	return e.Kind.String() + ": " + e.Msg
}

func (e *Error) Unwrap() error { return e.err }
func (e *Error) Cause() error  { return e.err }

// Wrap builds an Error of the given kind, wrapping cause with errors.Wrap
// so a stack trace is attached the first time the error is constructed.
func Wrap(kind Kind, cause error, msg string) error {
	if cause == nil {
		return &Error{Kind: kind, Msg: msg}
	}
	return &Error{Kind: kind, Msg: msg, err: errors.Wrap(cause, msg)}
}

// Newf builds an Error of the given kind with a formatted message and no
// underlying cause.
func Newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: errors.Errorf(format, args...).Error()}
}

// Is reports whether err is a *kv.Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
