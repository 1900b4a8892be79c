package engine

import (
	"time"

	"github.com/google/uuid"
	"github.com/stepflow-io/stepflow/pkg/models"
)

// DelayController manages task pause windows and the workflow-level
// delayed/running flips tied to them.
type DelayController struct {
	clock func() time.Time
	newID func() string
}

func NewDelayController() *DelayController {
	return &DelayController{
		clock: time.Now,
		newID: func() string { return uuid.New().String() },
	}
}

// Start attaches a delay to the task and, when the task is entering its
// active phase, begins the pause immediately: the task and workflow flip to
// delayed. Requesting a delay for an already completed task is a silent
// no-op, since replays after a template version upgrade may do that.
func (c *DelayController) Start(wf *models.Workflow, task *models.Task, duration models.Duration, directly models.DirectlyStatus) *models.Delay {
	if task.Status == models.TaskStatusCompleted {
		return nil
	}

	now := c.clock()

	delay, open := task.OpenDelay()
	if !open {
		delay = &models.Delay{
			ID:             c.newID(),
			TaskID:         task.ID,
			Duration:       duration,
			DirectlyStatus: directly,
		}
		task.Delays = append(task.Delays, delay)
	} else if directly == models.DirectlyStatusCreated {
		// A forced delay overrides whatever window was pending.
		delay.Duration = duration
		delay.DirectlyStatus = models.DirectlyStatusCreated
	}

	if task.Status == models.TaskStatusActive || task.Status == models.TaskStatusDelayed {
		delay.Start(now)

		task.Status = models.TaskStatusDelayed
		wf.Status = models.WorkflowStatusDelayed
	}

	return delay
}

// ForceEnd closes the open delay regardless of its estimated end and flips
// the task and workflow back to active/running. The delay row stays as a
// historical record. Expired delays resume like any other.
func (c *DelayController) ForceEnd(wf *models.Workflow, task *models.Task) (*models.Delay, bool) {
	delay, open := task.OpenDelay()
	if !open {
		return nil, false
	}

	now := c.clock()
	delay.EndDate = &now

	if task.Status == models.TaskStatusDelayed {
		task.Status = models.TaskStatusActive
	}

	wf.Status = models.WorkflowStatusRunning

	return delay, true
}

// Reset discards the task's pending or not-yet-expired delay on revert.
// Manually forced delays (directly_status=created) survive reverts; delays
// that never started are removed entirely, started ones are closed.
func (c *DelayController) Reset(task *models.Task) {
	delay, open := task.OpenDelay()
	if !open || delay.DirectlyStatus == models.DirectlyStatusCreated {
		return
	}

	now := c.clock()

	if delay.StartDate == nil || !delay.IsExpired(now) {
		kept := task.Delays[:0]

		for _, d := range task.Delays {
			if d != delay {
				kept = append(kept, d)
			}
		}

		task.Delays = kept

		return
	}

	delay.EndDate = &now
}

// UpdateDuration applies a template re-sync to the task's delay rule. A
// manually forced delay wins over template changes and keeps its duration.
func (c *DelayController) UpdateDuration(task *models.Task, duration models.Duration) *models.Delay {
	task.DelayDuration = duration

	delay, open := task.OpenDelay()
	if !open {
		delay = &models.Delay{
			ID:             c.newID(),
			TaskID:         task.ID,
			Duration:       duration,
			DirectlyStatus: models.DirectlyStatusNone,
		}
		task.Delays = append(task.Delays, delay)

		return delay
	}

	if delay.DirectlyStatus == models.DirectlyStatusCreated {
		return delay
	}

	delay.Duration = duration

	if delay.StartDate != nil {
		end := delay.StartDate.Add(duration.Std())
		delay.EstimatedEndDate = &end
	}

	return delay
}
