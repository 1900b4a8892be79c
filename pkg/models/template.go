package models

import (
	"encoding/json"
	"time"
)

// Template is the reusable blueprint a workflow run is instantiated from.
// The engine treats it as a read-only source of task, performer and
// condition definitions.
type Template struct {
	ID          string `json:"id"`
	AccountID   string `json:"account_id" validate:"required"`
	Name        string `json:"name"       validate:"required,min=3"`
	IsActive    bool   `json:"is_active"`
	Finalizable bool   `json:"finalizable"`

	// KickoffSchema is an optional JSON Schema the kickoff data is validated
	// against before a run starts.
	KickoffSchema json.RawMessage `json:"kickoff_schema,omitempty"`

	Tasks []*TaskTemplate `json:"tasks" validate:"min=1,dive"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// TaskTemplate is the definition of one step inside a template.
type TaskTemplate struct {
	Number                 int             `json:"number"   validate:"min=1"`
	Name                   string          `json:"name"     validate:"required"`
	APIName                string          `json:"api_name" validate:"required"`
	RequireCompletionByAll bool            `json:"require_completion_by_all"`
	AllowRevert            bool            `json:"allow_revert"`
	RevertTask             string          `json:"revert_task,omitempty"`
	Ancestors              []string        `json:"ancestors,omitempty"`
	DueIn                  *Duration       `json:"due_in,omitempty"`
	DelayDuration          Duration        `json:"delay_duration,omitempty"`
	ChecklistsTotal        int             `json:"checklists_total,omitempty"`
	RawPerformers          []*RawPerformer `json:"raw_performers" validate:"min=1,dive"`
	Conditions             []*Condition    `json:"conditions,omitempty"`
}

// TaskByNumber returns the task template at the given position.
func (t *Template) TaskByNumber(number int) (*TaskTemplate, bool) {
	for _, tt := range t.Tasks {
		if tt.Number == number {
			return tt, true
		}
	}

	return nil, false
}
