package models

import "time"

// PerformerKind is the closed set of performer declaration kinds.
type PerformerKind string

const (
	PerformerKindUser            PerformerKind = "user"
	PerformerKindGroup           PerformerKind = "group"
	PerformerKindField           PerformerKind = "field"
	PerformerKindWorkflowStarter PerformerKind = "workflow_starter"
)

// DirectlyStatus marks whether a performer or delay row was manually
// overridden. Manually created or removed rows survive automatic
// re-resolution and template re-sync.
type DirectlyStatus string

const (
	DirectlyStatusNone    DirectlyStatus = "no_status"
	DirectlyStatusCreated DirectlyStatus = "created"
	DirectlyStatusDeleted DirectlyStatus = "deleted"
)

// RawPerformer is the declarative performer rule carried over from the
// template: who should perform a task, possibly resolved dynamically.
type RawPerformer struct {
	ID      string        `json:"id"`
	Kind    PerformerKind `json:"kind"    validate:"required,oneof=user group field workflow_starter"`
	UserID  string        `json:"user_id,omitempty"`  // kind=user
	GroupID string        `json:"group_id,omitempty"` // kind=group
	// FieldAPIName references a prior user-typed field whose current value
	// supplies the performer (kind=field).
	FieldAPIName string `json:"field_api_name,omitempty"`
}

// TaskPerformer is the materialized assignment of one user or group to one
// task, with completion state.
type TaskPerformer struct {
	ID             string         `json:"id"`
	TaskID         string         `json:"task_id"`
	Kind           PerformerKind  `json:"kind"` // user or group
	UserID         string         `json:"user_id,omitempty"`
	GroupID        string         `json:"group_id,omitempty"`
	IsCompleted    bool           `json:"is_completed"`
	DateCompleted  *time.Time     `json:"date_completed,omitempty"`
	DirectlyStatus DirectlyStatus `json:"directly_status"`
	// StatusChangedAt orders manual restore/re-delete races: last write wins.
	StatusChangedAt *time.Time `json:"status_changed_at,omitempty"`
	DeletedAt       *time.Time `json:"deleted_at,omitempty"`
}

// Identity returns the concrete identity the row is bound to, prefixed by
// kind so user and group IDs never collide.
func (p *TaskPerformer) Identity() string {
	if p.Kind == PerformerKindGroup {
		return "group:" + p.GroupID
	}

	return "user:" + p.UserID
}
