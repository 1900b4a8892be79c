package web

import "github.com/stepflow-io/stepflow/pkg/models"

// RunWorkflowRequest is the POST /workflows payload.
type RunWorkflowRequest struct {
	TemplateID string              `json:"template_id" validate:"required"`
	Name       string              `json:"name,omitempty"`
	IsExternal bool                `json:"is_external,omitempty"`
	IsUrgent   bool                `json:"is_urgent,omitempty"`
	Kickoff    []models.FieldValue `json:"kickoff,omitempty"`
}

// CompleteTaskRequest is the POST /workflows/:id/tasks/:taskId/complete payload.
// The acting user comes from the request identity headers; the body is empty.

// DelayWorkflowRequest is the POST /workflows/:id/delay payload.
type DelayWorkflowRequest struct {
	Duration string `json:"duration" validate:"required"` // Go duration string, e.g. "72h"
}
