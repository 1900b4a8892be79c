// Package models defines the core domain models for workflow execution and task progression.
package models

import "time"

// WorkflowStatus represents the lifecycle state of a workflow run.
type WorkflowStatus string

const (
	WorkflowStatusRunning    WorkflowStatus = "running"
	WorkflowStatusDelayed    WorkflowStatus = "delayed"
	WorkflowStatusDone       WorkflowStatus = "done"
	WorkflowStatusTerminated WorkflowStatus = "terminated"
)

// EndReason records how a workflow reached a terminal status.
type EndReason string

const (
	EndReasonCompleted   EndReason = "completed"
	EndReasonByCondition EndReason = "by_condition"
	EndReasonTerminated  EndReason = "terminated"
)

// Workflow is one instantiated run of a Template. It is the aggregate root:
// it owns its ordered tasks and the kickoff field values, and every state
// mutation goes through the transition engine while the workflow lock is held.
type Workflow struct {
	ID             string         `json:"id"`
	AccountID      string         `json:"account_id"     validate:"required"`
	TemplateID     string         `json:"template_id"    validate:"required"`
	Name           string         `json:"name"           validate:"required"`
	Status         WorkflowStatus `json:"status"`
	EndReason      EndReason      `json:"end_reason,omitempty"`
	CurrentTask    int            `json:"current_task"` // 1-based position pointer
	TaskCount      int            `json:"task_count"`
	IsUrgent       bool           `json:"is_urgent"`
	IsExternal     bool           `json:"is_external"` // started without an authenticated starter
	Finalizable    bool           `json:"finalizable"`
	StarterID      string         `json:"starter_id,omitempty"` // empty for external runs
	AncestorTaskID string         `json:"ancestor_task_id,omitempty"`
	RevertedTo     int            `json:"reverted_to,omitempty"` // position marker set by return-to
	DueDate        *time.Time     `json:"due_date,omitempty"`
	DateCreated    time.Time      `json:"date_created"`
	DateCompleted  *time.Time     `json:"date_completed,omitempty"`
	DeletedAt      *time.Time     `json:"deleted_at,omitempty"`

	// Members is the set of user IDs involved in the run: the starter plus
	// every user ever materialized as a task performer.
	Members []string `json:"members"`

	// Kickoff holds the field values captured when the run was requested.
	// They are readable by every task (position 0).
	Kickoff []FieldValue `json:"kickoff,omitempty"`

	// Tasks is ordered by Number (1..TaskCount) and never re-numbered.
	Tasks []*Task `json:"tasks"`
}

// Ended reports whether the workflow reached a terminal status.
func (w *Workflow) Ended() bool {
	return w.Status == WorkflowStatusDone || w.Status == WorkflowStatusTerminated
}

// TaskByNumber returns the task at the given 1-based position.
func (w *Workflow) TaskByNumber(number int) (*Task, bool) {
	for _, t := range w.Tasks {
		if t.Number == number {
			return t, true
		}
	}

	return nil, false
}

// TaskByID returns the task with the given ID.
func (w *Workflow) TaskByID(id string) (*Task, bool) {
	for _, t := range w.Tasks {
		if t.ID == id {
			return t, true
		}
	}

	return nil, false
}

// ActiveTask returns the task the CurrentTask pointer designates.
func (w *Workflow) ActiveTask() (*Task, bool) {
	return w.TaskByNumber(w.CurrentTask)
}

// AddMember records a user as a member of the run. Duplicates are ignored.
func (w *Workflow) AddMember(userID string) {
	if userID == "" {
		return
	}

	for _, m := range w.Members {
		if m == userID {
			return
		}
	}

	w.Members = append(w.Members, userID)
}

// PriorFieldValue returns the most recent value of the field with the given
// api name produced strictly before the given task number. Kickoff fields
// count as position 0, a task's output fields carry its own number. The
// highest position below beforeNumber wins.
func (w *Workflow) PriorFieldValue(apiName string, beforeNumber int) (FieldValue, bool) {
	var (
		best      FieldValue
		bestPos   = -1
		bestFound bool
	)

	for _, fv := range w.Kickoff {
		if fv.APIName == apiName && bestPos < 0 {
			best, bestPos, bestFound = fv, 0, true
		}
	}

	for _, t := range w.Tasks {
		if t.Number >= beforeNumber {
			continue
		}

		for _, fv := range t.OutputFields {
			if fv.APIName == apiName && t.Number > bestPos {
				best, bestPos, bestFound = fv, t.Number, true
			}
		}
	}

	return best, bestFound
}

// FieldsBefore collects the latest value of every field visible to the task
// at the given number, keyed by api name. It is the read model handed to the
// condition evaluator.
func (w *Workflow) FieldsBefore(beforeNumber int) map[string]FieldValue {
	out := make(map[string]FieldValue)

	for _, fv := range w.Kickoff {
		out[fv.APIName] = fv
	}

	for _, t := range w.Tasks {
		if t.Number >= beforeNumber {
			continue
		}

		for _, fv := range t.OutputFields {
			out[fv.APIName] = fv
		}
	}

	return out
}
