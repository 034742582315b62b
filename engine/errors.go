package engine

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies a domain failure. Kinds map 1:1 onto client-facing
// error responses.
type ErrorKind string

const (
	KindPermissionDenied    ErrorKind = "permission_denied"
	KindInvalidState        ErrorKind = "invalid_state"
	KindInvalidTarget       ErrorKind = "invalid_target"
	KindValidationFailed    ErrorKind = "validation_failed"
	KindNotFound            ErrorKind = "not_found"
	KindConcurrencyConflict ErrorKind = "concurrency_conflict"
)

// Error is a structured domain failure. The message is display-ready; the
// engine returns these as values and never panics for expected conditions.
type Error struct {
	Kind    ErrorKind
	Message string

	// Blocking carries the item names that failed a validation hook.
	Blocking []string
}

func (e *Error) Error() string {
	if len(e.Blocking) > 0 {
		return fmt.Sprintf("%s: %s", e.Message, strings.Join(e.Blocking, ", "))
	}
	return e.Message
}

// Is supports errors.Is matching on kind via the sentinel values below.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	return ok && other.Kind == e.Kind && other.Message == ""
}

// Sentinels for errors.Is checks. Matching ignores the message.
var (
	ErrPermissionDenied    = &Error{Kind: KindPermissionDenied}
	ErrInvalidState        = &Error{Kind: KindInvalidState}
	ErrInvalidTarget       = &Error{Kind: KindInvalidTarget}
	ErrValidationFailed    = &Error{Kind: KindValidationFailed}
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrConcurrencyConflict = &Error{Kind: KindConcurrencyConflict}
)

func permissionDenied(format string, args ...any) *Error {
	return &Error{Kind: KindPermissionDenied, Message: fmt.Sprintf(format, args...)}
}

func invalidState(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidState, Message: fmt.Sprintf(format, args...)}
}

func invalidTarget(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidTarget, Message: fmt.Sprintf(format, args...)}
}

func validationFailed(blocking []string, format string, args ...any) *Error {
	return &Error{Kind: KindValidationFailed, Message: fmt.Sprintf(format, args...), Blocking: blocking}
}

func notFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// AsDomain extracts a structured domain error, if err carries one.
func AsDomain(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}
