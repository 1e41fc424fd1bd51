package engine

import (
	"errors"
	"fmt"
	"time"
)

// SchedulerError represents an error detected while configuring or running a
// Scheduler.
type SchedulerError struct {
	// Code identifies the error category.
	Code SchedulerErrorCode

	// Message is a human-readable description.
	Message string

	// Domain names the clock domain involved, if any.
	Domain string

	// Details contains additional context.
	Details map[string]string
}

// SchedulerErrorCode categorizes scheduler errors.
type SchedulerErrorCode string

const (
	// ErrCodeInvalidPeriod indicates a domain registered with a non-positive period.
	ErrCodeInvalidPeriod SchedulerErrorCode = "INVALID_PERIOD"

	// ErrCodeDuplicateDomain indicates a domain name registered twice.
	ErrCodeDuplicateDomain SchedulerErrorCode = "DUPLICATE_DOMAIN"

	// ErrCodeNoDomains indicates a run was requested with nothing to tick.
	ErrCodeNoDomains SchedulerErrorCode = "NO_DOMAINS"

	// ErrCodeLimitReached indicates RunUntil hit its time limit before the
	// condition held.
	ErrCodeLimitReached SchedulerErrorCode = "LIMIT_REACHED"
)

// Error implements the error interface.
func (e *SchedulerError) Error() string {
	if e.Domain != "" {
		return fmt.Sprintf("%s: %s (domain=%s)", e.Code, e.Message, e.Domain)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsLimitError returns true if the error is a RunUntil time limit.
// Uses errors.As to handle wrapped errors.
func IsLimitError(err error) bool {
	var se *SchedulerError
	if errors.As(err, &se) {
		return se.Code == ErrCodeLimitReached
	}
	return false
}

// NewLimitError creates a SchedulerError for a RunUntil limit.
func NewLimitError(limit, now time.Duration) *SchedulerError {
	return &SchedulerError{
		Code:    ErrCodeLimitReached,
		Message: fmt.Sprintf("condition not reached within %s", limit),
		Details: map[string]string{
			"limit": limit.String(),
			"now":   now.String(),
		},
	}
}
