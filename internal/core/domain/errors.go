package domain

import "errors"

// ErrorKind is the closed set of business failure kinds.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindNotFound
	KindInvalidRequest
	KindConflict
	KindUnavailable
)

const internalMessage = "an unexpected error occurred"

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInvalidRequest:
		return "invalid_request"
	case KindConflict:
		return "conflict"
	case KindUnavailable:
		return "unavailable"
	default:
		return "internal"
	}
}

// Error is a business-meaningful failure. Reason is safe to show to callers
// for every kind except KindInternal, whose cause is kept in Err for logs.
type Error struct {
	Kind   ErrorKind
	Reason string
	Err    error
}

var (
	ErrNotFound       = &Error{Kind: KindNotFound}
	ErrInvalidRequest = &Error{Kind: KindInvalidRequest}
	ErrConflict       = &Error{Kind: KindConflict}
	ErrUnavailable    = &Error{Kind: KindUnavailable}
	ErrInternal       = &Error{Kind: KindInternal}
)

func NotFound(reason string) *Error {
	return &Error{Kind: KindNotFound, Reason: reason}
}

func InvalidRequest(reason string) *Error {
	return &Error{Kind: KindInvalidRequest, Reason: reason}
}

func Conflict(reason string) *Error {
	return &Error{Kind: KindConflict, Reason: reason}
}

func Unavailable(reason string) *Error {
	return &Error{Kind: KindUnavailable, Reason: reason}
}

func Internal(cause error) *Error {
	return &Error{Kind: KindInternal, Err: cause}
}

func (e *Error) Error() string {
	msg := e.Reason
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the bare sentinels (ErrNotFound, ErrConflict, ...) by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Reason != "" || t.Err != nil {
		return false
	}
	return t.Kind == e.Kind
}

// Message returns the text that may be shown to a caller.
func (e *Error) Message() string {
	switch {
	case e.Kind == KindInternal:
		return internalMessage
	case e.Reason == "":
		return e.Kind.String()
	}
	return e.Reason
}

// KindOf reports the kind of err. Errors that are not domain errors are internal.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// ParseErrorKind is the inverse of ErrorKind.String.
func ParseErrorKind(s string) (ErrorKind, bool) {
	switch s {
	case "not_found":
		return KindNotFound, true
	case "invalid_request":
		return KindInvalidRequest, true
	case "conflict":
		return KindConflict, true
	case "unavailable":
		return KindUnavailable, true
	case "internal":
		return KindInternal, true
	}
	return KindInternal, false
}
