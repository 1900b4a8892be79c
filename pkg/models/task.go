package models

import "time"

// TaskStatus represents the lifecycle state of a single task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusActive    TaskStatus = "active"
	TaskStatusDelayed   TaskStatus = "delayed"
	TaskStatusSkipped   TaskStatus = "skipped"
	TaskStatusCompleted TaskStatus = "completed"
)

// Terminal reports whether the status can only be left through an explicit revert.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusSkipped
}

// Task is one step in a workflow's ordered sequence.
type Task struct {
	ID         string     `json:"id"`
	WorkflowID string     `json:"workflow_id"`
	Number     int        `json:"number"` // 1-based, immutable
	Name       string     `json:"name"`
	APIName    string     `json:"api_name"`
	Status     TaskStatus `json:"status"`

	// RequireCompletionByAll selects AND semantics across performers; with
	// false a single performer completion completes the task.
	RequireCompletionByAll bool `json:"require_completion_by_all"`

	DateFirstStarted *time.Time `json:"date_first_started,omitempty"`
	DateStarted      *time.Time `json:"date_started,omitempty"` // reset on every (re)activation
	DateCompleted    *time.Time `json:"date_completed,omitempty"`

	// DueIn is the template-relative due window; DueDate is resolved from it
	// on activation. OverdueSent guards the overdue event, once per task.
	DueIn       *Duration  `json:"due_in,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	OverdueSent bool       `json:"overdue_sent,omitempty"`

	ChecklistsTotal  int  `json:"checklists_total"`
	ChecklistsMarked int  `json:"checklists_marked"`
	ContainsComments bool `json:"contains_comments"`

	// AllowRevert gates the single-step revert action for this task.
	AllowRevert bool `json:"allow_revert"`

	// RevertTask optionally overrides the single-step revert target with an
	// explicit task api name.
	RevertTask string `json:"revert_task,omitempty"`

	// Ancestors lists api names of tasks this task causally depends on, used
	// for due-date and condition field lookups.
	Ancestors []string `json:"ancestors,omitempty"`

	// DelayDuration is the template-declared delay applied when the task
	// becomes active. Zero means no delay rule.
	DelayDuration Duration `json:"delay_duration,omitempty"`

	RawPerformers []*RawPerformer  `json:"raw_performers,omitempty"`
	Performers    []*TaskPerformer `json:"performers,omitempty"`

	// Delays keeps the full delay history; at most one entry is open
	// (end date unset) at a time.
	Delays []*Delay `json:"delays,omitempty"`

	Conditions []*Condition `json:"conditions,omitempty"`

	// OutputFields are the field values filled while completing this task.
	OutputFields []FieldValue `json:"output_fields,omitempty"`
}

// OpenDelay returns the delay that has not been ended yet, if any.
func (t *Task) OpenDelay() (*Delay, bool) {
	for i := len(t.Delays) - 1; i >= 0; i-- {
		if t.Delays[i].EndDate == nil {
			return t.Delays[i], true
		}
	}

	return nil, false
}

// PerformerForUser returns the live performer row for the given user.
func (t *Task) PerformerForUser(userID string) (*TaskPerformer, bool) {
	for _, p := range t.Performers {
		if p.DeletedAt == nil && p.UserID == userID {
			return p, true
		}
	}

	return nil, false
}

// ActivePerformers returns performer rows that count toward completion:
// not orphaned and not manually removed.
func (t *Task) ActivePerformers() []*TaskPerformer {
	out := make([]*TaskPerformer, 0, len(t.Performers))

	for _, p := range t.Performers {
		if p.DeletedAt == nil && p.DirectlyStatus != DirectlyStatusDeleted {
			out = append(out, p)
		}
	}

	return out
}

// ChecklistsDone reports whether every checklist item on the task is marked.
func (t *Task) ChecklistsDone() bool {
	return t.ChecklistsMarked >= t.ChecklistsTotal
}
