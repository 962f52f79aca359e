package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusinessError_Message(t *testing.T) {
	err := Validation("unknown field %q", "title")
	assert.Equal(t, `ValidationError: unknown field "title"`, err.Error())

	err = Unprocessable(map[string]any{"field": "title", "operator": "LongerThan"}, "invalid value")
	assert.Equal(t, "UnprocessableError: invalid value (field=title, operator=LongerThan)", err.Error())
}

func TestIs_WrappedErrors(t *testing.T) {
	base := Conflict("duplicate collection %q", "book")
	wrapped := fmt.Errorf("add datasource: %w", base)

	assert.True(t, IsConflict(wrapped))
	assert.False(t, IsValidation(wrapped))
	assert.False(t, IsNotFound(errors.New("plain")))

	var be *BusinessError
	require.True(t, errors.As(wrapped, &be))
	assert.Equal(t, KindConflict, be.Kind)
}

func TestWithCause(t *testing.T) {
	cause := errors.New("disk full")
	err := NotFound("chart %q", "revenue").WithCause(cause)

	assert.True(t, errors.Is(err, cause))
	assert.True(t, IsNotFound(err))
}
