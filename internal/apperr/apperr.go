package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure for callers and for the HTTP boundary.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindInsufficientStock
	KindInvalidTransition
	KindUnauthorized
	KindForbidden
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindInsufficientStock:
		return "insufficient_stock"
	case KindInvalidTransition:
		return "invalid_transition"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindConflict:
		return "conflict"
	default:
		return "internal"
	}
}

// Machine-readable codes returned in the error envelope.
const (
	CodeValidation             = "VALIDATION_ERROR"
	CodeNotFound               = "NOT_FOUND"
	CodeInsufficientStock      = "INSUFFICIENT_STOCK"
	CodeItemNotAvailable       = "ITEM_NOT_AVAILABLE"
	CodeInvalidTransition      = "INVALID_TRANSITION"
	CodeInsufficientPermission = "INSUFFICIENT_PERMISSION"
	CodeInvalidToken           = "INVALID_TOKEN"
	CodeInvalidCredentials     = "INVALID_CREDENTIALS"
	CodeDuplicateItemCode      = "DUPLICATE_ITEM_CODE"
	CodeDuplicateEmail         = "DUPLICATE_EMAIL"
	CodeDuplicateUsername      = "DUPLICATE_USERNAME"
	CodeConcurrentModification = "CONCURRENT_MODIFICATION"
	CodeInternal               = "INTERNAL_ERROR"
)

// Sentinels usable with errors.Is against any *Error of the same kind.
var (
	ErrValidation        = &Error{Kind: KindValidation}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrInsufficientStock = &Error{Kind: KindInsufficientStock}
	ErrInvalidTransition = &Error{Kind: KindInvalidTransition}
	ErrUnauthorized      = &Error{Kind: KindUnauthorized}
	ErrForbidden         = &Error{Kind: KindForbidden}
	ErrConflict          = &Error{Kind: KindConflict}
)

// Error is the typed failure surfaced by the core.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	case e.Code != "":
		return e.Code
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on kind so that errors.Is(err, apperr.ErrNotFound) works for every not-found error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func newError(kind Kind, code, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...interface{}) *Error {
	return newError(KindValidation, CodeValidation, format, args...)
}

func ValidationCode(code, format string, args ...interface{}) *Error {
	return newError(KindValidation, code, format, args...)
}

func NotFound(format string, args ...interface{}) *Error {
	return newError(KindNotFound, CodeNotFound, format, args...)
}

func InsufficientStock(format string, args ...interface{}) *Error {
	return newError(KindInsufficientStock, CodeInsufficientStock, format, args...)
}

func InvalidTransition(format string, args ...interface{}) *Error {
	return newError(KindInvalidTransition, CodeInvalidTransition, format, args...)
}

func Unauthorized(code, format string, args ...interface{}) *Error {
	return newError(KindUnauthorized, code, format, args...)
}

func Forbidden(format string, args ...interface{}) *Error {
	return newError(KindForbidden, CodeInsufficientPermission, format, args...)
}

func Conflict(code, format string, args ...interface{}) *Error {
	return newError(KindConflict, code, format, args...)
}

// Internal wraps an unexpected failure (storage, timeout) without leaking it as a caller error.
func Internal(err error, format string, args ...interface{}) *Error {
	e := newError(KindInternal, CodeInternal, format, args...)
	e.Err = err
	return e
}

// KindOf reports the kind of err, KindInternal for anything untyped.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// HTTPStatus maps an error onto the boundary's status codes.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation, KindInsufficientStock:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindInvalidTransition, KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Code returns the machine code for err.
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Code != "" {
		return e.Code
	}
	return CodeInternal
}
