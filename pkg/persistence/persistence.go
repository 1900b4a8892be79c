// Package persistence provides the storage abstraction the engine mutates
// workflow aggregates through.
package persistence

import (
	"context"
	"encoding/json"
	"time"

	"github.com/stepflow-io/stepflow/pkg/models"
	"github.com/stepflow-io/stepflow/pkg/outbox"
)

// EventLogEntry is one append-only activity log row. Entries are written in
// the same atomic save as the state transition that produced them.
type EventLogEntry struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	AccountID  string          `json:"account_id"`
	WorkflowID string          `json:"workflow_id"`
	TaskID     string          `json:"task_id,omitempty"`
	UserID     string          `json:"user_id,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// OverdueTask is the overdue-scan read model row.
type OverdueTask struct {
	WorkflowID string
	AccountID  string
	TaskID     string
	TaskNumber int
	DueDate    time.Time
}

// WorkflowRepository stores workflow aggregates.
type WorkflowRepository interface {
	GetByID(ctx context.Context, id string) (*models.Workflow, error)

	// Save persists the aggregate together with its outbox messages and
	// activity log entries in one atomic unit. Either everything commits or
	// nothing does.
	Save(ctx context.Context, workflow *models.Workflow, messages []outbox.Message, entries []EventLogEntry) error

	// Delete soft-deletes the workflow, cascading to its tasks.
	Delete(ctx context.Context, id string) error

	// ListExpiredDelays returns IDs of delayed workflows whose open delay has
	// an estimated end in the past. Used by the resume scan.
	ListExpiredDelays(ctx context.Context, now time.Time) ([]string, error)

	// ListOverdueTasks returns active or delayed tasks whose due date passed
	// and whose overdue event has not been sent yet.
	ListOverdueTasks(ctx context.Context, now time.Time) ([]OverdueTask, error)

	// CountRunningSubWorkflows counts non-terminal workflows spawned from the
	// given task.
	CountRunningSubWorkflows(ctx context.Context, taskID string) (int, error)
}

// TemplateRepository stores templates. The engine only reads them.
type TemplateRepository interface {
	GetByID(ctx context.Context, id string) (*models.Template, error)
	Save(ctx context.Context, template *models.Template) error
}

// EventLogRepository reads the activity log back out.
type EventLogRepository interface {
	ListByWorkflow(ctx context.Context, workflowID string, limit int) ([]EventLogEntry, error)
}

type Persistence interface {
	Workflows() WorkflowRepository
	Templates() TemplateRepository
	Outbox() outbox.Repository
	EventLog() EventLogRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
