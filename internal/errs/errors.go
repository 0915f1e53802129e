package errs

import (
	"errors"
	"fmt"
)

// AppError is the error type surfaced to callers of the core. Code selects
// the taxonomy bucket, Message is safe to show to clients, Err keeps the
// underlying cause for logs.
type AppError struct {
	Code    int
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%d] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NewError(code int, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap returns a copy of e carrying err as its cause.
func (e *AppError) Wrap(err error) *AppError {
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     err,
	}
}

// WithMessage returns a copy of e with a more specific message.
func (e *AppError) WithMessage(format string, args ...interface{}) *AppError {
	return &AppError{
		Code:    e.Code,
		Message: fmt.Sprintf(format, args...),
		Err:     e.Err,
	}
}

// Is reports whether err is an AppError with the same code as target.
func Is(err error, target *AppError) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == target.Code
	}
	return false
}

// GetCode returns the code of err, or CodeInternal for foreign errors.
func GetCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

func GetMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "internal error"
}

const (
	CodeValidation       = 40001
	CodeUnauthorized     = 40101
	CodeForbidden        = 40301
	CodeNotFound         = 40401
	CodeStoreUnavailable = 50301
	CodeInternal         = 50001
)

var (
	ErrValidation       = NewError(CodeValidation, "invalid request")
	ErrMissingContent   = NewError(CodeValidation, "message must have content or an attachment")
	ErrMalformedTarget  = NewError(CodeValidation, "message must target exactly one conversation or group")
	ErrUnauthorized     = NewError(CodeUnauthorized, "unauthorized")
	ErrNotAdmin         = NewError(CodeForbidden, "only the group admin can do this")
	ErrAlreadyMember    = NewError(CodeValidation, "user is already in the group")
	ErrNotFound         = NewError(CodeNotFound, "not found")
	ErrRoomNotFound     = NewError(CodeNotFound, "room not found")
	ErrNotMember        = NewError(CodeNotFound, "not a member of this room")
	ErrStoreUnavailable = NewError(CodeStoreUnavailable, "store unavailable")
	ErrInternal         = NewError(CodeInternal, "internal error")
)
