// Package errs tags errors with a Kind so callers can branch on the error
// taxonomy in spec §7 without string-matching messages.
package errs

import "fmt"

// Kind classifies an error the way spec.md §7 enumerates the taxonomy.
type Kind string

const (
	KindConfig       Kind = "config_error"
	KindNotFound     Kind = "not_found"
	KindBackpressure Kind = "backpressure"
	KindExecution    Kind = "execution_failed"
	KindTimeout      Kind = "timeout"
	KindIO           Kind = "io_error"
	KindNotification Kind = "notification_error"
)

// Error wraps an underlying cause with a Kind tag.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same Kind, so
// errors.Is(err, errs.NotFound("", nil)) style checks work without exposing Op/Err.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Config(op string, err error) *Error       { return New(KindConfig, op, err) }
func NotFound(op string, err error) *Error     { return New(KindNotFound, op, err) }
func Backpressure(op string, err error) *Error { return New(KindBackpressure, op, err) }
func Execution(op string, err error) *Error    { return New(KindExecution, op, err) }
func Timeout(op string, err error) *Error      { return New(KindTimeout, op, err) }
func IO(op string, err error) *Error           { return New(KindIO, op, err) }
func Notification(op string, err error) *Error { return New(KindNotification, op, err) }

// KindOf extracts the Kind of err if it (or something it wraps) is an *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	for err != nil {
		if ae, ok := err.(*Error); ok {
			e = ae
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if e == nil {
		return "", false
	}
	return e.Kind, true
}
