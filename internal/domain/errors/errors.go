package errors

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// Lookup errors
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrIntentNotFound      = errors.New("payment intent not found")

	// Payment errors
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrNotRefundable          = errors.New("transaction is not refundable")
	ErrRefundExceedsAmount    = errors.New("refund exceeds remaining amount")
	ErrOptimisticLockFailed   = errors.New("optimistic lock conflict")

	// Provider errors
	ErrUnsupportedProvider   = errors.New("unsupported payment provider")
	ErrProviderUnavailable   = errors.New("payment provider unavailable")
	ErrProviderNotConfigured = errors.New("payment provider not configured")

	// Persistence errors
	ErrPersistenceAfterProviderSuccess = errors.New("persistence failed after provider success")

	// Lock errors
	ErrLockAcquisitionFailed = errors.New("failed to acquire lock")

	// Validation errors
	ErrValidationFailed = errors.New("validation failed")
	ErrInvalidInput     = errors.New("invalid input")
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

// ValidationError represents a validation error. Details holds every message
// when a request failed more than one check.
type ValidationError struct {
	Field   string
	Message string
	Details []string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Message)
	}
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
		Details: []string{message},
	}
}

// NewValidationErrors builds a single error out of a list of messages.
func NewValidationErrors(details []string) *ValidationError {
	return &ValidationError{
		Message: strings.Join(details, "; "),
		Details: details,
	}
}

// PersistenceError is returned when storage fails after the provider already
// moved money. ExternalReferenceID points at the provider-side record.
type PersistenceError struct {
	Op                  string
	ExternalReferenceID string
	Err                 error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s (external ref %s): %v", e.Op, e.ExternalReferenceID, e.Err)
}

func (e *PersistenceError) Unwrap() []error {
	return []error{ErrPersistenceAfterProviderSuccess, e.Err}
}

// NewPersistenceError creates a new persistence error
func NewPersistenceError(op, externalRef string, err error) *PersistenceError {
	return &PersistenceError{Op: op, ExternalReferenceID: externalRef, Err: err}
}
