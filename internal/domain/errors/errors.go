package errors

import (
	"errors"
	"fmt"
)

var (
	// Caller input errors
	ErrInvalidRequest = errors.New("invalid request")
	ErrInvalidInput   = errors.New("invalid input")

	// Lookup errors
	ErrTransactionNotFound = errors.New("payment transaction not found")
	ErrNotFound            = errors.New("resource not found")

	// Provider errors
	ErrProviderNotConfigured = errors.New("payment provider not configured")
	ErrProviderUnavailable   = errors.New("payment provider unavailable")
	ErrProviderDenied        = errors.New("request denied by payment provider")
	ErrProviderRateLimited   = errors.New("rate limited by payment provider")

	// Webhook errors
	ErrSignatureInvalid = errors.New("webhook signature invalid")

	// State machine errors
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrRefundNotAllowed  = errors.New("refund not allowed")

	// Idempotency errors
	ErrIdempotencyConflict = errors.New("idempotency key reuse with different parameters")

	// Concurrency errors
	ErrConcurrentUpdate = errors.New("concurrent transaction update")

	// Validation errors
	ErrValidationFailed = errors.New("validation failed")
)

// DomainError wraps errors with additional context
type DomainError struct {
	Code    string
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for field %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidationFailed
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}
