package mm

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies errors returned by modem operations.
type ErrorKind int

const (
	KindFailed ErrorKind = iota
	KindWrongState
	KindUnsupported
	KindTooMany
	KindCancelled
	KindUnauthorized
	KindInvalidArgs
	KindNotFound
	KindSimNotInserted
	KindSimFailure
	KindSimWrong
)

func (k ErrorKind) String() string {
	switch k {
	case KindWrongState:
		return "wrong-state"
	case KindUnsupported:
		return "unsupported"
	case KindTooMany:
		return "too-many"
	case KindCancelled:
		return "cancelled"
	case KindUnauthorized:
		return "unauthorized"
	case KindInvalidArgs:
		return "invalid-args"
	case KindNotFound:
		return "not-found"
	case KindSimNotInserted:
		return "sim-not-inserted"
	case KindSimFailure:
		return "sim-failure"
	case KindSimWrong:
		return "sim-wrong"
	default:
		return "failed"
	}
}

// Error is the typed error returned by every public modem operation.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	case e.Msg != "":
		return e.Msg
	case e.Err != nil:
		return e.Err.Error()
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so the sentinels below work with
// errors.Is regardless of message.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind && t.Msg == "" && t.Err == nil
	}
	return false
}

// Sentinels for errors.Is comparisons.
var (
	ErrFailed         = &Error{Kind: KindFailed}
	ErrWrongState     = &Error{Kind: KindWrongState}
	ErrUnsupported    = &Error{Kind: KindUnsupported}
	ErrTooMany        = &Error{Kind: KindTooMany}
	ErrCancelled      = &Error{Kind: KindCancelled}
	ErrUnauthorized   = &Error{Kind: KindUnauthorized}
	ErrInvalidArgs    = &Error{Kind: KindInvalidArgs}
	ErrNotFound       = &Error{Kind: KindNotFound}
	ErrSimNotInserted = &Error{Kind: KindSimNotInserted}
	ErrSimFailure     = &Error{Kind: KindSimFailure}
	ErrSimWrong       = &Error{Kind: KindSimWrong}
)

// Errorf builds a typed error with a formatted message.
func Errorf(kind ErrorKind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying error.
func Wrap(kind ErrorKind, err error, msg string) error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf returns the kind of err. Context errors map to KindCancelled and
// untyped errors to KindFailed.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCancelled
	}
	return KindFailed
}

// IsSimFatal reports whether err is a SIM hardware fault that no retry can
// fix.
func IsSimFatal(err error) bool {
	switch KindOf(err) {
	case KindSimNotInserted, KindSimFailure, KindSimWrong:
		return true
	}
	return false
}

func unsupported(op string) error {
	return Errorf(KindUnsupported, "%s is not supported by this modem", op)
}

func wrongState(op string, s State) error {
	return Errorf(KindWrongState, "cannot %s: modem is %s", op, s)
}

// cancelled converts a finished context into a Cancelled error.
func cancelled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return Wrap(KindCancelled, err, "operation cancelled")
	}
	return nil
}

// wrapDriver keeps typed driver errors as they are and marks anything else
// as Failed with context.
func wrapDriver(err error, msg string) error {
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Wrap(KindCancelled, err, msg)
	}
	return Wrap(KindFailed, err, msg)
}
