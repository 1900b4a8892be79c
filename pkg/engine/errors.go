// Package engine implements the workflow execution core: performer
// resolution, condition evaluation, delay control, the task transition state
// machine and the orchestrator that drives them under the workflow lock.
package engine

import (
	"errors"
	"fmt"
)

// Business-rule rejections. Surfaced synchronously to the caller, never
// retried, never applied partially.
var (
	ErrTaskNotCurrent         = errors.New("task is not the current task")
	ErrChecklistsIncomplete   = errors.New("task has unmarked checklists")
	ErrSubWorkflowsRunning    = errors.New("task has running sub-workflows")
	ErrAlreadyCompletedByUser = errors.New("task already completed by this performer")
	ErrNotAPerformer          = errors.New("user is not a performer of the task")
	ErrInvalidReturnTarget    = errors.New("invalid return target")
	ErrTaskNotReturnable      = errors.New("task does not allow revert")
	ErrAlreadyEnded           = errors.New("workflow already ended")
	ErrNotFinalizable         = errors.New("workflow is not finalizable")
	ErrWorkflowNotRunning     = errors.New("workflow is not running")
	ErrWorkflowNotDelayed     = errors.New("workflow is not delayed")
)

// ErrInvalidWorkflowConfiguration indicates a data-integrity problem in the
// template (e.g. a starter-typed performer with neither a starter nor an
// account owner to fall back on), not a runtime bug.
var ErrInvalidWorkflowConfiguration = errors.New("invalid workflow configuration")

// ErrTransitionConflict is returned when the workflow lock could not be won
// within the bounded retry budget. The caller may retry.
var ErrTransitionConflict = errors.New("transition conflict, retry")

// TransitionError wraps a transition failure with the operation and workflow
// it happened on.
type TransitionError struct {
	Op         string // Operation name (e.g. "Complete", "ReturnTo")
	Code       string // Stable machine-readable code for API responses
	WorkflowID string
	Err        error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s failed for workflow %s: %v", e.Op, e.WorkflowID, e.Err)
}

func (e *TransitionError) Unwrap() error {
	return e.Err
}

func (e *TransitionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewTransitionError creates a transition error, deriving the stable code
// from the sentinel.
func NewTransitionError(op, workflowID string, err error) *TransitionError {
	return &TransitionError{
		Op:         op,
		Code:       codeFor(err),
		WorkflowID: workflowID,
		Err:        err,
	}
}

func codeFor(err error) string {
	switch {
	case errors.Is(err, ErrTaskNotCurrent):
		return "task_not_current"
	case errors.Is(err, ErrChecklistsIncomplete):
		return "checklists_incomplete"
	case errors.Is(err, ErrSubWorkflowsRunning):
		return "sub_workflows_running"
	case errors.Is(err, ErrAlreadyCompletedByUser):
		return "already_completed_by_user"
	case errors.Is(err, ErrNotAPerformer):
		return "not_a_performer"
	case errors.Is(err, ErrInvalidReturnTarget):
		return "invalid_return_target"
	case errors.Is(err, ErrTaskNotReturnable):
		return "task_not_returnable"
	case errors.Is(err, ErrAlreadyEnded):
		return "already_ended"
	case errors.Is(err, ErrNotFinalizable):
		return "not_finalizable"
	case errors.Is(err, ErrWorkflowNotRunning):
		return "workflow_not_running"
	case errors.Is(err, ErrWorkflowNotDelayed):
		return "workflow_not_delayed"
	case errors.Is(err, ErrInvalidWorkflowConfiguration):
		return "invalid_workflow_configuration"
	case errors.Is(err, ErrTransitionConflict):
		return "transition_conflict"
	default:
		return "internal"
	}
}

// IsValidationError checks whether an error is a business-rule rejection that
// maps to a 4xx response.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrTaskNotCurrent) ||
		errors.Is(err, ErrChecklistsIncomplete) ||
		errors.Is(err, ErrSubWorkflowsRunning) ||
		errors.Is(err, ErrAlreadyCompletedByUser) ||
		errors.Is(err, ErrNotAPerformer) ||
		errors.Is(err, ErrInvalidReturnTarget) ||
		errors.Is(err, ErrTaskNotReturnable) ||
		errors.Is(err, ErrAlreadyEnded) ||
		errors.Is(err, ErrNotFinalizable) ||
		errors.Is(err, ErrWorkflowNotRunning) ||
		errors.Is(err, ErrWorkflowNotDelayed)
}

// IsConfigurationError checks whether an error indicates broken template data.
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrInvalidWorkflowConfiguration)
}

// IsTransientError checks whether the caller may usefully retry.
func IsTransientError(err error) bool {
	return errors.Is(err, ErrTransitionConflict)
}
