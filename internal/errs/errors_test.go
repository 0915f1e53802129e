package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		expected string
	}{
		{
			name:     "without wrapped error",
			err:      NewError(40001, "bad input"),
			expected: "[40001] bad input",
		},
		{
			name:     "with wrapped error",
			err:      NewError(50301, "store unavailable").Wrap(errors.New("dial tcp: refused")),
			expected: "[50301] store unavailable: dial tcp: refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestAppError_WrapKeepsSentinelUntouched(t *testing.T) {
	cause := errors.New("timeout")
	wrapped := ErrStoreUnavailable.Wrap(cause)

	assert.Equal(t, ErrStoreUnavailable.Code, wrapped.Code)
	assert.Same(t, cause, errors.Unwrap(wrapped))
	assert.Nil(t, ErrStoreUnavailable.Err)
}

func TestAppError_WithMessage(t *testing.T) {
	err := ErrNotFound.WithMessage("room %s not found", "r1")

	assert.Equal(t, CodeNotFound, err.Code)
	assert.Equal(t, "room r1 not found", err.Message)
}

func TestIs(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		target   *AppError
		expected bool
	}{
		{"same sentinel", ErrMissingContent, ErrValidation, true},
		{"wrapped by fmt", fmt.Errorf("send: %w", ErrNotMember), ErrNotFound, true},
		{"different code", ErrRoomNotFound, ErrValidation, false},
		{"plain error", errors.New("boom"), ErrInternal, false},
		{"nil", nil, ErrInternal, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Is(tt.err, tt.target))
		})
	}
}

func TestGetCodeAndMessage(t *testing.T) {
	assert.Equal(t, CodeStoreUnavailable, GetCode(ErrStoreUnavailable.Wrap(errors.New("x"))))
	assert.Equal(t, CodeInternal, GetCode(errors.New("x")))
	assert.Equal(t, "room not found", GetMessage(ErrRoomNotFound))
	assert.Equal(t, "internal error", GetMessage(errors.New("x")))
}
