package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error so callers can map it to a transport status
// without string matching.
type Kind int

const (
	// KindUnknown is the zero value; treated as a storage-level failure.
	KindUnknown Kind = iota
	KindNotFound
	KindUnauthorized
	KindAlreadyMarked
	KindInvalidInput
	KindInvalidCoordinate
	KindReferentialConflict
	KindStorageFailure
)

// Error carries a stable kind alongside a user-facing message and an
// optional wrapped cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying error.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// NotFound reports whether err is (or wraps) a not-found error.
func NotFound(err error) bool { return KindOf(err) == KindNotFound }

// KindOf extracts the kind from an error chain. Non-taxonomy errors
// report KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// HTTPStatus maps a kind to the status hint the HTTP layer uses.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindUnauthorized:
		return http.StatusForbidden
	case KindAlreadyMarked:
		return http.StatusConflict
	case KindInvalidInput, KindInvalidCoordinate:
		return http.StatusBadRequest
	case KindReferentialConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
