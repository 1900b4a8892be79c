package models

import "time"

// DelayState is the derived state of a delay window.
type DelayState string

const (
	DelayStatePending DelayState = "pending" // created, start date unset
	DelayStateActive  DelayState = "active"  // started, estimated end in the future
	DelayStateExpired DelayState = "expired" // estimated end in the past
	DelayStateEnded   DelayState = "ended"   // end date set
)

// Delay is a pause window attached to a task. Ended delays are kept as
// historical records.
type Delay struct {
	ID               string         `json:"id"`
	TaskID           string         `json:"task_id"`
	Duration         Duration       `json:"duration"`
	StartDate        *time.Time     `json:"start_date,omitempty"`
	EstimatedEndDate *time.Time     `json:"estimated_end_date,omitempty"` // start + duration
	EndDate          *time.Time     `json:"end_date,omitempty"`
	DirectlyStatus   DirectlyStatus `json:"directly_status"`
}

// Start begins the pause window now and recomputes the estimated end.
func (d *Delay) Start(now time.Time) {
	d.StartDate = &now
	end := now.Add(d.Duration.Std())
	d.EstimatedEndDate = &end
}

// IsExpired reports whether the estimated end date is set and in the past.
func (d *Delay) IsExpired(now time.Time) bool {
	return d.EstimatedEndDate != nil && d.EstimatedEndDate.Before(now)
}

// State derives the delay state at the given instant.
func (d *Delay) State(now time.Time) DelayState {
	switch {
	case d.EndDate != nil:
		return DelayStateEnded
	case d.StartDate == nil:
		return DelayStatePending
	case d.IsExpired(now):
		return DelayStateExpired
	default:
		return DelayStateActive
	}
}
