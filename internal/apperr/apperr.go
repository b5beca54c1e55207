// Package apperr defines the single error taxonomy shared by all
// services. Handlers map kinds to HTTP status codes; services never
// construct HTTP responses themselves.
package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	// KindUnknown covers unexpected internal failures.
	KindUnknown Kind = iota

	// KindUnauthenticated: missing, malformed, expired or revoked
	// credentials. The caller must re-login.
	KindUnauthenticated

	// KindUnauthorized: valid identity, insufficient permission tier.
	KindUnauthorized

	// KindForbidden: structurally disallowed, e.g. changing one's own
	// grant or revoking a file's sole owner grant.
	KindForbidden

	// KindNotFound: file, grant or user absent.
	KindNotFound

	// KindConflict: duplicate registration.
	KindConflict

	// KindStorageIO: backing-bytes read/write failure.
	KindStorageIO

	// KindTransient: store/cache timeout; the operation may be retried.
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindUnauthenticated:
		return "unauthenticated"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindStorageIO:
		return "storage_io"
	case KindTransient:
		return "transient"
	default:
		return "unknown"
	}
}

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap attaches a cause to an error of the given kind.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the kind from err, or KindUnknown if err is not an
// *Error.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
