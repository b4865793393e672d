package utils

import (
	"context"
	"errors"
	"net"
)

var ErrorRecordNotFound = errors.New("record not found")

// ErrorIsolationViolation marks a sync payload that references data owned by
// another business. Never retried.
var ErrorIsolationViolation = errors.New("tenant isolation violation")

// ErrorCapacityExceeded is returned when a cashier already has the maximum
// number of active sale sessions on a device.
var ErrorCapacityExceeded = errors.New("active session limit reached")

// ValidationError is a permanent client-input failure. It is reported back to
// the caller and never retried.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

func NewValidationError(reason string) error {
	return &ValidationError{Reason: reason}
}

func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsTransientError reports whether err looks like a temporary network or
// timeout failure worth retrying. Validation and isolation failures are
// always permanent.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	if IsValidationError(err) || errors.Is(err, ErrorIsolationViolation) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}
