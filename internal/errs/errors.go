// Package errs defines the business error taxonomy shared by every layer.
//
// All errors carry a machine name and a details map that outer layers
// serialize unchanged. Decorators never swallow errors from deeper layers;
// they may translate a generic failure into one of these kinds.
package errs

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind categorizes business errors.
type Kind string

const (
	// KindValidation indicates a malformed request or registration: unknown
	// field paths, operators not allowed for a column, bad customizations.
	KindValidation Kind = "ValidationError"

	// KindConflict indicates a duplicate name or conflicting writes.
	KindConflict Kind = "ConflictError"

	// KindUnprocessable indicates a structurally valid but impossible request,
	// e.g. a write rejected by validation rules.
	KindUnprocessable Kind = "UnprocessableError"

	// KindNotFound indicates an unknown collection, chart or action.
	KindNotFound Kind = "NotFoundError"

	// KindForbidden indicates the caller may not perform the operation.
	KindForbidden Kind = "ForbiddenError"
)

// BusinessError is the root of the taxonomy.
type BusinessError struct {
	// Kind is the machine name.
	Kind Kind

	// Message is a human-readable description.
	Message string

	// Details contains additional structured context.
	Details map[string]any

	cause error
}

// Error implements the error interface.
func (e *BusinessError) Error() string {
	if len(e.Details) == 0 {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	keys := make([]string, 0, len(e.Details))
	for k := range e.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, e.Details[k])
	}
	return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, strings.Join(parts, ", "))
}

// Unwrap returns the wrapped cause, if any.
func (e *BusinessError) Unwrap() error {
	return e.cause
}

// WithCause attaches an underlying error.
func (e *BusinessError) WithCause(err error) *BusinessError {
	e.cause = err
	return e
}

func newError(kind Kind, details map[string]any, format string, args ...any) *BusinessError {
	return &BusinessError{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Details: details,
	}
}

// Validation creates a ValidationError.
func Validation(format string, args ...any) *BusinessError {
	return newError(KindValidation, nil, format, args...)
}

// ValidationWith creates a ValidationError carrying details.
func ValidationWith(details map[string]any, format string, args ...any) *BusinessError {
	return newError(KindValidation, details, format, args...)
}

// Conflict creates a ConflictError.
func Conflict(format string, args ...any) *BusinessError {
	return newError(KindConflict, nil, format, args...)
}

// Unprocessable creates an UnprocessableError carrying details.
func Unprocessable(details map[string]any, format string, args ...any) *BusinessError {
	return newError(KindUnprocessable, details, format, args...)
}

// NotFound creates a NotFoundError.
func NotFound(format string, args ...any) *BusinessError {
	return newError(KindNotFound, nil, format, args...)
}

// Forbidden creates a ForbiddenError.
func Forbidden(format string, args ...any) *BusinessError {
	return newError(KindForbidden, nil, format, args...)
}

// Is reports whether err (or anything it wraps) is a business error of kind.
// Uses errors.As to handle wrapped errors.
func Is(err error, kind Kind) bool {
	var be *BusinessError
	if errors.As(err, &be) {
		return be.Kind == kind
	}
	return false
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool { return Is(err, KindValidation) }

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool { return Is(err, KindConflict) }

// IsUnprocessable reports whether err is an UnprocessableError.
func IsUnprocessable(err error) bool { return Is(err, KindUnprocessable) }

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool { return Is(err, KindNotFound) }
