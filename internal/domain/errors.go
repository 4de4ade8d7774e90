package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	// ErrConflict is returned when a record is no longer pending.
	ErrConflict = errors.New("conflict")
)

// ErrorCode classifies why a dispatch ended in the failed state.
type ErrorCode string

const (
	ErrorCodeInvalidTarget      ErrorCode = "InvalidTarget"
	ErrorCodeInvalidPayload     ErrorCode = "InvalidPayload"
	ErrorCodeGatewayUnreachable ErrorCode = "GatewayUnreachable"
	ErrorCodeUnknown            ErrorCode = "Unknown"
)

func (c ErrorCode) String() string { return string(c) }

// ValidationError is a record-level validation failure with its error code.
type ValidationError struct {
	Code    ErrorCode
	Message string
}

func (e *ValidationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// CodeOf returns the ErrorCode carried by err, or ErrorCodeUnknown.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}

	var coded interface{ ErrorCode() ErrorCode }
	if errors.As(err, &coded) {
		if code := coded.ErrorCode(); code != "" {
			return code
		}
	}

	var validationErr *ValidationError
	if errors.As(err, &validationErr) && validationErr.Code != "" {
		return validationErr.Code
	}

	return ErrorCodeUnknown
}
