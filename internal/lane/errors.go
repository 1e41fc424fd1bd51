package lane

import (
	"errors"
	"fmt"
)

// Error represents a lane failure surfaced to the consumer.
//
// Lane errors include:
//   - Detect stall: the watchdog exhausted its retries waiting for done
//   - Invalid config: the timing policy or watchdog cannot be run
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// State is the detect state the lane was in, if relevant.
	State string

	// Details contains additional context.
	Details map[string]string
}

// ErrorCode categorizes lane errors.
type ErrorCode string

const (
	// ErrCodeDetectStall indicates done never toggled within the watchdog's
	// retries.
	ErrCodeDetectStall ErrorCode = "DETECT_STALL"

	// ErrCodeInvalidConfig indicates an unusable policy or watchdog setting.
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"
)

// Error implements the error interface.
func (e *Error) Error() string {
	if e.State != "" {
		return fmt.Sprintf("%s: %s (state=%s)", e.Code, e.Message, e.State)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsDetectStall returns true if the error is a detect stall.
// Uses errors.As to handle wrapped errors.
func IsDetectStall(err error) bool {
	var le *Error
	if errors.As(err, &le) {
		return le.Code == ErrCodeDetectStall
	}
	return false
}

// IsConfigError returns true if the error is an invalid configuration.
func IsConfigError(err error) bool {
	var le *Error
	if errors.As(err, &le) {
		return le.Code == ErrCodeInvalidConfig
	}
	return false
}

// NewDetectStallError creates an Error for an exhausted watchdog.
func NewDetectStallError(state string, retries int, timeoutTicks int64) *Error {
	return &Error{
		Code:    ErrCodeDetectStall,
		Message: fmt.Sprintf("detect done did not toggle after %d retries", retries),
		State:   state,
		Details: map[string]string{
			"retries":       fmt.Sprintf("%d", retries),
			"timeout_ticks": fmt.Sprintf("%d", timeoutTicks),
		},
	}
}

func newConfigError(err error) *Error {
	return &Error{
		Code:    ErrCodeInvalidConfig,
		Message: err.Error(),
	}
}
