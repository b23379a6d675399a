// Package shared contains common domain types, errors and events
// that are used across all domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	// Validation errors
	ErrValidation   = errors.New("validation error")
	ErrInvalidID    = errors.New("invalid ID")
	ErrInvalidInput = errors.New("invalid input")
	ErrEmptyValue   = errors.New("value cannot be empty")

	// State errors
	ErrInvalidState    = errors.New("invalid state")
	ErrStateTransition = errors.New("invalid state transition")

	// Authentication / authorization errors
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	// Delivery and scheduling errors
	ErrDeliveryFailed   = errors.New("delivery failed")
	ErrSchedulerFailure = errors.New("scheduler failure")

	// External service errors
	ErrExternalService    = errors.New("external service error")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "unlock", "gateway", "notification"
	Op      string // Operation that failed, e.g., "Connect", "Expedite"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Error taxonomy
// ═══════════════════════════════════════════════════════════════════════════

// NewAuthError reports a failed token verification. The socket must be closed.
func NewAuthError(op, message string, err error) *DomainError {
	return WrapError("auth", op, ErrUnauthorized, message, err)
}

// NewAuthorizationError reports a denied channel subscription. The socket stays open.
func NewAuthorizationError(op, channel string) *DomainError {
	return NewDomainError("channel", op, ErrForbidden,
		fmt.Sprintf("Not authorized to subscribe to channel %s", channel))
}

// NewDeliveryError reports a push that failed on a single socket.
func NewDeliveryError(op, socketID string, err error) *DomainError {
	return WrapError("gateway", op, ErrDeliveryFailed, "delivery to socket "+socketID+" failed", err)
}

// NewSchedulerError reports a failed scan tick.
func NewSchedulerError(op, message string, err error) *DomainError {
	return WrapError("scheduler", op, ErrSchedulerFailure, message, err)
}

// NewInvalidStateError reports a rejected state transition.
func NewInvalidStateError(domain, op, message string) *DomainError {
	return NewDomainError(domain, op, ErrInvalidState, message)
}

// Unlock domain errors
var (
	ErrScheduleNotFound        = NewDomainError("unlock", "Find", ErrNotFound, "unlock schedule not found")
	ErrScheduleAlreadyUnlocked = NewInvalidStateError("unlock", "Expedite", "unlock schedule is already unlocked")
	ErrInvalidSubjectType      = NewDomainError("unlock", "Validate", ErrInvalidInput, "invalid subject type")
	ErrInvalidUnlockType       = NewDomainError("unlock", "Validate", ErrInvalidInput, "invalid unlock type")
)

// Gateway errors
var (
	ErrUserNotFound     = NewDomainError("auth", "FindUser", ErrNotFound, "user not found")
	ErrSocketNotFound   = NewDomainError("gateway", "Find", ErrNotFound, "socket not registered")
	ErrRegistryClosed   = NewInvalidStateError("gateway", "Connect", "connection registry is shut down")
	ErrSubjectNotFound  = NewDomainError("content", "GetSubjectTitle", ErrNotFound, "subject not found")
	ErrNotificationGone = NewDomainError("notification", "Find", ErrNotFound, "notification not found")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsInvalidState checks if the error is a rejected state transition.
func IsInvalidState(err error) bool {
	return errors.Is(err, ErrInvalidState) || errors.Is(err, ErrStateTransition)
}

// IsUnauthorized checks if the error is an authentication failure.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// IsForbidden checks if the error is an authorization failure.
func IsForbidden(err error) bool {
	return errors.Is(err, ErrForbidden)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrEmptyValue)
}

// IsRetryable checks if the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrExternalService)
}
