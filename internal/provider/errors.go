package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/kursadbilgin/push-relay/internal/domain"
)

// GatewayError is a classified push gateway failure.
type GatewayError struct {
	Code       domain.ErrorCode
	StatusCode int
	Message    string
	Cause      error
}

func (e *GatewayError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 3)
	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	if len(parts) == 0 {
		return e.code().String()
	}

	return strings.Join(parts, ": ")
}

func (e *GatewayError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// ErrorCode makes GatewayError readable through domain.CodeOf.
func (e *GatewayError) ErrorCode() domain.ErrorCode {
	if e == nil {
		return ""
	}
	return e.code()
}

func (e *GatewayError) code() domain.ErrorCode {
	if e.Code == "" {
		return domain.ErrorCodeUnknown
	}
	return e.Code
}

// IsTransient reports whether err looks like a connectivity problem rather
// than a rejection of the push itself.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var gatewayErr *GatewayError
	if errors.As(err, &gatewayErr) {
		return gatewayErr.Code == domain.ErrorCodeGatewayUnreachable
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}

// unreachable wraps a transport-level failure.
func unreachable(message string, cause error) *GatewayError {
	return &GatewayError{
		Code:    domain.ErrorCodeGatewayUnreachable,
		Message: message,
		Cause:   cause,
	}
}
