// Package apperror implements the error taxonomy from spec §7: a small,
// stable set of error kinds that the HTTP facade maps directly to status
// codes. Storage packages (filerepo, cachestore) return *Error values (or
// wrap them) so the boundary translation in fileservice never has to guess
// at intent from a driver-specific error string.
package apperror

import (
	"errors"
	"fmt"
)

// Kind is one of the taxonomy members in spec §7.
type Kind int

const (
	// KindNotFound covers a missing identity on get/delete/move-source, or
	// an empty history.
	KindNotFound Kind = iota
	// KindInvalidRequest covers a malformed URL, a missing required
	// header, or source==destination on move.
	KindInvalidRequest
	// KindMethodNotAllowed: path matches but method does not.
	KindMethodNotAllowed
	// KindVersionMismatch: expected version disagrees with current, or the
	// destination of a move already exists.
	KindVersionMismatch
	// KindForwardingError: upstream HTTP failure (cache node only).
	KindForwardingError
	// KindHandlerTimeout: handler exceeded its timeout.
	KindHandlerTimeout
	// KindHandlerError is the catch-all with an explicit status code.
	KindHandlerError
)

// Error is the taxonomy's single carrier type.
type Error struct {
	Kind Kind
	// code is only meaningful for KindHandlerError; every other kind maps
	// to a fixed status in HTTPStatus.
	code int
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.err)
	}

	return e.msg
}

func (e *Error) Unwrap() error { return e.err }

// HTTPStatus maps the error to the status code spec §7 assigns it.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindNotFound:
		return 404
	case KindInvalidRequest:
		return 400
	case KindMethodNotAllowed:
		return 405
	case KindVersionMismatch:
		return 412
	case KindForwardingError:
		return 502
	case KindHandlerTimeout:
		return 504
	case KindHandlerError:
		return e.code
	default:
		return 500
	}
}

// New builds a taxonomy error with a plain message.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, msg: msg}
}

// Errorf builds a taxonomy error with a formatted message.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches kind and message to an underlying error, preserving it for
// errors.Unwrap/errors.Is chains.
func Wrap(kind Kind, err error, msg string) *Error {
	return &Error{Kind: kind, msg: msg, err: err}
}

// HandlerErrorf builds the catch-all KindHandlerError with an explicit
// status code, per spec §7's "HandlerError(code,msg)" member.
func HandlerErrorf(code int, format string, args ...any) *Error {
	return &Error{Kind: KindHandlerError, code: code, msg: fmt.Sprintf(format, args...)}
}

// As reports whether err (or anything it wraps) is an *Error, returning it.
func As(err error) (*Error, bool) {
	var e *Error

	ok := errors.As(err, &e)

	return e, ok
}

// Is lets errors.Is(err, apperror.NotFound) etc. work against Kind-tagged
// sentinels constructed with New/Errorf/Wrap — two *Error values match if
// their Kind matches, regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}

	return e.Kind == t.Kind
}

// Sentinels usable with errors.Is at call sites that only care about kind,
// e.g. errors.Is(err, apperror.NotFound).
var (
	NotFound         = &Error{Kind: KindNotFound}
	InvalidRequest   = &Error{Kind: KindInvalidRequest}
	MethodNotAllowed = &Error{Kind: KindMethodNotAllowed}
	VersionMismatch  = &Error{Kind: KindVersionMismatch}
	ForwardingError  = &Error{Kind: KindForwardingError}
	HandlerTimeout   = &Error{Kind: KindHandlerTimeout}
)
