// Package services provides the request-validating façade over the workflow
// engine, plus standardized error types for service layer operations.
package services

import (
	"errors"
	"fmt"

	"github.com/stepflow-io/stepflow/pkg/engine"
	"github.com/stepflow-io/stepflow/pkg/persistence"
)

// Business logic errors. These indicate client errors (4xx responses).
var (
	// Validation errors (400 Bad Request).
	ErrInvalidRequest    = errors.New("invalid request")
	ErrKickoffInvalid    = errors.New("kickoff data does not match the template schema")
	ErrInvalidDuration   = errors.New("invalid delay duration")
	ErrTemplateInactive  = errors.New("template is not active")
	ErrAccountMismatch   = errors.New("workflow does not belong to this account")
	ErrEmptyUserID       = errors.New("user ID cannot be empty")
	ErrEmptyWorkflowName = errors.New("workflow name cannot be empty")
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// IsValidationError checks if an error should map to HTTP 400/422.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrKickoffInvalid) ||
		errors.Is(err, ErrInvalidDuration) ||
		errors.Is(err, ErrTemplateInactive) ||
		errors.Is(err, ErrEmptyUserID) ||
		errors.Is(err, ErrEmptyWorkflowName) ||
		engine.IsValidationError(err)
}

// IsNotFoundError checks if an error should map to HTTP 404. An account
// mismatch deliberately reads as not-found so workflow IDs do not leak
// across tenants.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrAccountMismatch) ||
		persistence.IsWorkflowNotFound(err) ||
		persistence.IsTemplateNotFound(err) ||
		persistence.IsTaskNotFound(err)
}

// IsConflictError checks if an error should map to HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, engine.ErrTransitionConflict)
}
