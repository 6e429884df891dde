// Package apperror defines the domain error taxonomy shared by the circulation engine.
package apperror

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

// Kind is a stable, machine-readable error code.
type Kind string

const (
	KindNotFound             Kind = "not_found"
	KindValidation           Kind = "validation_error"
	KindUnavailable          Kind = "unavailable"
	KindAlreadyReturned      Kind = "already_returned"
	KindAlreadyFulfilled     Kind = "already_fulfilled"
	KindDuplicateReservation Kind = "duplicate_reservation"
	KindForbidden            Kind = "forbidden"
)

// Error is an expected, recoverable domain outcome.
type Error struct {
	Kind    Kind   `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Message
}

// Is matches any *Error of the same kind, so callers can compare against the sentinels below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrNotFound             = &Error{Kind: KindNotFound, Message: "resource not found"}
	ErrValidation           = &Error{Kind: KindValidation, Message: "invalid input"}
	ErrUnavailable          = &Error{Kind: KindUnavailable, Message: "not available"}
	ErrAlreadyReturned      = &Error{Kind: KindAlreadyReturned, Message: "loan has already been returned"}
	ErrAlreadyFulfilled     = &Error{Kind: KindAlreadyFulfilled, Message: "reservation has already been fulfilled"}
	ErrDuplicateReservation = &Error{Kind: KindDuplicateReservation, Message: "an open reservation for this copy already exists"}
	ErrForbidden            = &Error{Kind: KindForbidden, Message: "access forbidden"}
)

// New returns a domain error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) error {
	return New(KindNotFound, format, args...)
}

func Validation(format string, args ...any) error {
	return New(KindValidation, format, args...)
}

func Unavailable(format string, args ...any) error {
	return New(KindUnavailable, format, args...)
}

func Forbidden(format string, args ...any) error {
	return New(KindForbidden, format, args...)
}

// As extracts the domain error from err's chain.
func As(err error) (*Error, bool) {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr, true
	}
	return nil, false
}

// IsDomain reports whether err is an expected domain outcome rather than an infrastructure failure.
func IsDomain(err error) bool {
	_, ok := As(err)
	return ok
}

// HTTPStatus maps a kind to the response status the API layer renders.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindValidation:
		return http.StatusBadRequest
	case KindForbidden:
		return http.StatusForbidden
	case KindUnavailable, KindAlreadyReturned, KindAlreadyFulfilled, KindDuplicateReservation:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
