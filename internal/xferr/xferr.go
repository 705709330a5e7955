// Package xferr defines the error taxonomy shared by the upload
// coordinator, the session store, and the client uploader.
package xferr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a transfer error.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidInput
	KindNotFound
	KindPermissionDenied
	KindConflict
	KindIncompletePrecondition
	KindStoreUnavailable
	KindTransferFailed
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "InvalidInput"
	case KindNotFound:
		return "NotFound"
	case KindPermissionDenied:
		return "PermissionDenied"
	case KindConflict:
		return "Conflict"
	case KindIncompletePrecondition:
		return "IncompletePrecondition"
	case KindStoreUnavailable:
		return "StoreUnavailable"
	case KindTransferFailed:
		return "TransferFailed"
	default:
		return "Unknown"
	}
}

// HTTPStatus maps a kind to the status code used by the HTTP binding.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindPermissionDenied:
		return http.StatusForbidden
	case KindConflict:
		return http.StatusConflict
	case KindIncompletePrecondition:
		return http.StatusPreconditionFailed
	case KindStoreUnavailable:
		return http.StatusBadGateway
	case KindTransferFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Error is a transfer error carrying a kind and optional cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New returns an error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying cause.
func Wrap(kind Kind, err error, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the kind of err, or KindUnknown for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// FromCode maps a wire error code back to a kind on the client side.
func FromCode(code string) Kind {
	switch code {
	case "InvalidInput":
		return KindInvalidInput
	case "NotFound":
		return KindNotFound
	case "PermissionDenied":
		return KindPermissionDenied
	case "Conflict":
		return KindConflict
	case "IncompletePrecondition":
		return KindIncompletePrecondition
	case "StoreUnavailable":
		return KindStoreUnavailable
	case "TransferFailed":
		return KindTransferFailed
	default:
		return KindUnknown
	}
}
