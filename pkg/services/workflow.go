package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/xeipuuv/gojsonschema"

	"github.com/stepflow-io/stepflow/pkg/engine"
	"github.com/stepflow-io/stepflow/pkg/models"
	"github.com/stepflow-io/stepflow/pkg/persistence"
)

// Workflow is the service façade the HTTP layer talks to. It validates
// requests, enforces account scoping, and delegates transitions to the
// orchestrator.
type Workflow struct {
	orchestrator *engine.Orchestrator
	persistence  persistence.Persistence
	validate     *validator.Validate
}

// NewWorkflow creates a new workflow service.
func NewWorkflow(orchestrator *engine.Orchestrator, persistence persistence.Persistence) *Workflow {
	return &Workflow{
		orchestrator: orchestrator,
		persistence:  persistence,
		validate:     validator.New(),
	}
}

// HealthCheck checks the health of the persistence layer.
func (w *Workflow) HealthCheck(ctx context.Context) (string, bool) {
	if w.persistence == nil {
		return "Persistence layer not initialized", false
	}

	if err := w.persistence.HealthCheck(ctx); err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// RunWorkflowRequest starts a run from a template.
type RunWorkflowRequest struct {
	AccountID  string `validate:"required"`
	TemplateID string `validate:"required"`

	// Name overrides the template name for this run.
	Name string

	// UserID is the starter; empty together with IsExternal=true for
	// anonymous kickoff-form runs.
	UserID     string
	IsExternal bool
	IsUrgent   bool

	// AncestorTaskID is set when the run is spawned as a sub-workflow.
	AncestorTaskID string

	Kickoff []models.FieldValue `validate:"dive"`
}

// RunWorkflow validates the request, checks the kickoff payload against the
// template's schema and starts the run.
func (w *Workflow) RunWorkflow(ctx context.Context, req RunWorkflowRequest) (*models.Workflow, error) {
	const op = "RunWorkflow"

	if err := w.validate.Struct(req); err != nil {
		return nil, NewValidationError(op, "invalid_request", err.Error(), ErrInvalidRequest)
	}

	if req.UserID == "" && !req.IsExternal {
		return nil, NewValidationError(op, "empty_user", "a starter is required for internal runs", ErrEmptyUserID)
	}

	template, err := w.persistence.Templates().GetByID(ctx, req.TemplateID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch template: %w", err)
	}

	if template.AccountID != req.AccountID {
		return nil, NewValidationError(op, "account_mismatch", "", ErrAccountMismatch)
	}

	if !template.IsActive {
		return nil, NewValidationError(op, "template_inactive", "", ErrTemplateInactive)
	}

	if err := w.validateKickoff(template, req.Kickoff); err != nil {
		return nil, err
	}

	return w.orchestrator.RunWorkflow(ctx, template.ID, engine.RunRequest{
		Name:           req.Name,
		StarterID:      req.UserID,
		IsExternal:     req.IsExternal,
		IsUrgent:       req.IsUrgent,
		AncestorTaskID: req.AncestorTaskID,
		Kickoff:        req.Kickoff,
	})
}

// validateKickoff checks the kickoff field values against the template's
// optional JSON schema.
func (w *Workflow) validateKickoff(template *models.Template, kickoff []models.FieldValue) error {
	const op = "RunWorkflow"

	if len(template.KickoffSchema) == 0 {
		return nil
	}

	payload := make(map[string]any, len(kickoff))

	for _, fv := range kickoff {
		if len(fv.Values) > 0 {
			payload[fv.APIName] = fv.Values
		} else {
			payload[fv.APIName] = fv.Value
		}
	}

	document, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode kickoff data: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(template.KickoffSchema),
		gojsonschema.NewBytesLoader(document),
	)
	if err != nil {
		return fmt.Errorf("failed to validate kickoff data: %w", err)
	}

	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			details = append(details, e.String())
		}

		return NewValidationError(op, "kickoff_invalid", strings.Join(details, "; "), ErrKickoffInvalid)
	}

	return nil
}

// GetWorkflow fetches one workflow, scoped to the account.
func (w *Workflow) GetWorkflow(ctx context.Context, accountID, workflowID string) (*models.Workflow, error) {
	wf, err := w.persistence.Workflows().GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if wf.AccountID != accountID {
		return nil, ErrAccountMismatch
	}

	return wf, nil
}

// CompleteTaskRequest records one performer's completion of the current task.
type CompleteTaskRequest struct {
	AccountID  string `validate:"required"`
	WorkflowID string `validate:"required"`
	TaskID     string `validate:"required"`
	UserID     string `validate:"required"`
}

func (w *Workflow) CompleteTask(ctx context.Context, req CompleteTaskRequest) error {
	const op = "CompleteTask"

	if err := w.validate.Struct(req); err != nil {
		return NewValidationError(op, "invalid_request", err.Error(), ErrInvalidRequest)
	}

	if _, err := w.GetWorkflow(ctx, req.AccountID, req.WorkflowID); err != nil {
		return err
	}

	return w.orchestrator.CompleteTask(ctx, req.WorkflowID, req.TaskID, req.UserID)
}

// RevertTask steps the workflow back exactly one task.
func (w *Workflow) RevertTask(ctx context.Context, accountID, workflowID string) error {
	if _, err := w.GetWorkflow(ctx, accountID, workflowID); err != nil {
		return err
	}

	return w.orchestrator.RevertTask(ctx, workflowID)
}

// ReturnToTask jumps the workflow back to an earlier task.
func (w *Workflow) ReturnToTask(ctx context.Context, accountID, workflowID, taskID string) error {
	if _, err := w.GetWorkflow(ctx, accountID, workflowID); err != nil {
		return err
	}

	return w.orchestrator.ReturnToTask(ctx, workflowID, taskID)
}

// ForceDelay pauses the workflow for the given duration string ("72h", "30m").
func (w *Workflow) ForceDelay(ctx context.Context, accountID, workflowID, duration string) error {
	const op = "ForceDelay"

	parsed, err := time.ParseDuration(duration)
	if err != nil || parsed <= 0 {
		return NewValidationError(op, "invalid_duration", "duration must be a positive Go duration string", ErrInvalidDuration)
	}

	if _, err := w.GetWorkflow(ctx, accountID, workflowID); err != nil {
		return err
	}

	return w.orchestrator.ForceDelay(ctx, workflowID, models.Duration(parsed))
}

// ForceResume ends the current delay early.
func (w *Workflow) ForceResume(ctx context.Context, accountID, workflowID string) error {
	if _, err := w.GetWorkflow(ctx, accountID, workflowID); err != nil {
		return err
	}

	return w.orchestrator.ForceResume(ctx, workflowID)
}

// FinishWorkflow terminates the workflow early.
func (w *Workflow) FinishWorkflow(ctx context.Context, accountID, workflowID, userID string) error {
	const op = "FinishWorkflow"

	if userID == "" {
		return NewValidationError(op, "empty_user", "", ErrEmptyUserID)
	}

	if _, err := w.GetWorkflow(ctx, accountID, workflowID); err != nil {
		return err
	}

	return w.orchestrator.FinishWorkflow(ctx, workflowID, userID)
}

// MarkUrgent flags the workflow as urgent.
func (w *Workflow) MarkUrgent(ctx context.Context, accountID, workflowID string) error {
	if _, err := w.GetWorkflow(ctx, accountID, workflowID); err != nil {
		return err
	}

	return w.orchestrator.SetUrgency(ctx, workflowID, true)
}

// UnmarkUrgent clears the urgency flag.
func (w *Workflow) UnmarkUrgent(ctx context.Context, accountID, workflowID string) error {
	if _, err := w.GetWorkflow(ctx, accountID, workflowID); err != nil {
		return err
	}

	return w.orchestrator.SetUrgency(ctx, workflowID, false)
}

// ListEvents returns the workflow's activity log, newest last.
func (w *Workflow) ListEvents(ctx context.Context, accountID, workflowID string, limit int) ([]persistence.EventLogEntry, error) {
	if _, err := w.GetWorkflow(ctx, accountID, workflowID); err != nil {
		return nil, err
	}

	if limit <= 0 || limit > 500 {
		limit = 100
	}

	return w.persistence.EventLog().ListByWorkflow(ctx, workflowID, limit)
}
