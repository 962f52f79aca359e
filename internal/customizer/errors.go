package customizer

import (
	"errors"
	"fmt"
)

// Error reports the customization that failed while draining the queue.
// The underlying business error stays reachable through errors.As.
type Error struct {
	// Customization describes the failing customization, e.g.
	// "book: add field fullName".
	Customization string

	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("customization %q failed: %v", e.Customization, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// FailedCustomization returns the label of the customization that caused
// err, if any.
func FailedCustomization(err error) (string, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Customization, true
	}
	return "", false
}
