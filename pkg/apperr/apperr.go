package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error so that callers (and the HTTP layer) can react
// without string matching.
type Kind string

const (
	KindInvalidSource     Kind = "invalid_source"
	KindUnsupportedScheme Kind = "unsupported_scheme"
	KindNotFound          Kind = "not_found"
	KindBadRequest        Kind = "bad_request"
	KindConflict          Kind = "conflict"
	KindInternal          Kind = "internal_error"
)

// Error carries a kind alongside a human-readable message and an optional
// wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match two apperr values by kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind && (t.Message == "" || t.Message == e.Message)
}

func newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) *Error {
	return newf(KindNotFound, format, args...)
}

func Conflict(format string, args ...any) *Error {
	return newf(KindConflict, format, args...)
}

func BadRequest(format string, args ...any) *Error {
	return newf(KindBadRequest, format, args...)
}

func InvalidSource(format string, args ...any) *Error {
	return newf(KindInvalidSource, format, args...)
}

func UnsupportedScheme(scheme string) *Error {
	return newf(KindUnsupportedScheme, "unsupported scheme: %q", scheme)
}

// Internal wraps an uncategorized failure. The message is safe to return to
// clients; the cause is not.
func Internal(msg string, err error) *Error {
	return &Error{Kind: KindInternal, Message: msg, Err: err}
}

// Wrap attaches context to err while preserving its kind. A nil err returns
// nil; an error without a kind becomes Internal.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return &Error{Kind: e.Kind, Message: msg + ": " + e.Message, Err: e.Err}
	}
	return &Error{Kind: KindInternal, Message: msg, Err: err}
}

// KindOf extracts the kind of err, defaulting to KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// HTTPStatus maps an error kind onto a response status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindInvalidSource, KindUnsupportedScheme, KindBadRequest:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Public returns the message suitable for a client response. Internal causes
// stay server-side.
func Public(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Kind == KindInternal {
			return "an internal error occurred"
		}
		return e.Message
	}
	return "an internal error occurred"
}
