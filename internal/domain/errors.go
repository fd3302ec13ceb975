package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a domain-specific error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new DomainError
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     nil,
	}
}

// NewDomainErrorWithCause creates a new DomainError with an underlying cause
func NewDomainErrorWithCause(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common domain error codes
const (
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeConflict         = "CONFLICT"
	ErrCodeTransient        = "TRANSIENT_SERVICE"
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeInternalError    = "INTERNAL_ERROR"
	ErrCodeInvalidOperation = "INVALID_OPERATION"
)

// Not found errors
var (
	ErrDocumentNotFound     = NewDomainError(ErrCodeNotFound, "document not found")
	ErrAnnotationNotFound   = NewDomainError(ErrCodeNotFound, "annotation lineage not found")
	ErrEntityNotFound       = NewDomainError(ErrCodeNotFound, "ontology entity not found")
	ErrCommitRecordNotFound = NewDomainError(ErrCodeNotFound, "commit record not found")
	ErrRunJobNotFound       = NewDomainError(ErrCodeNotFound, "pipeline run job not found")
)

// Conflict errors
var (
	// ErrVersionConflict is returned when a state-machine write carries a
	// stale expected version. The caller must re-read and retry.
	ErrVersionConflict = NewDomainError(ErrCodeConflict, "stale annotation version, re-fetch and retry")
)

// Operation errors
var (
	ErrTerminalStage = NewDomainError(ErrCodeInvalidOperation, "annotation is in a terminal stage")
	ErrNotApproved   = NewDomainError(ErrCodeInvalidOperation, "only user-approved annotations can be committed")
	ErrInvalidAPIKey = NewDomainError(ErrCodeUnauthorized, "invalid api key")
)

// NewTransientError wraps an external-service failure that the caller may
// retry per the backoff policy.
func NewTransientError(message string, err error) *DomainError {
	return NewDomainErrorWithCause(ErrCodeTransient, message, err)
}

// IsConflict reports whether err is a version conflict.
func IsConflict(err error) bool {
	return hasCode(err, ErrCodeConflict)
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool {
	return hasCode(err, ErrCodeNotFound)
}

// IsTransient reports whether err is a retryable external-service failure.
func IsTransient(err error) bool {
	return hasCode(err, ErrCodeTransient)
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool {
	return hasCode(err, ErrCodeValidation)
}

func hasCode(err error, code string) bool {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}
