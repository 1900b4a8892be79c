package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stepflow-io/stepflow/pkg/events"
	"github.com/stepflow-io/stepflow/pkg/models"
)

// SubWorkflowCounter answers whether a task still has running sub-workflows.
// It is the one synchronous read the engine performs outside the aggregate.
type SubWorkflowCounter interface {
	CountRunningSubWorkflows(ctx context.Context, taskID string) (int, error)
}

// Engine is the task transition state machine. Every method mutates the
// aggregate in memory and records events on the result; nothing is persisted
// here. The orchestrator applies a whole transition atomically or not at all.
type Engine struct {
	resolver *Resolver
	delays   *DelayController
	subs     SubWorkflowCounter
	clock    func() time.Time
	newID    func() string
}

func New(directory Directory, subs SubWorkflowCounter) *Engine {
	return &Engine{
		resolver: NewResolver(directory),
		delays:   NewDelayController(),
		subs:     subs,
		clock:    time.Now,
		newID:    func() string { return uuid.New().String() },
	}
}

// withClock pins the engine and its sub-controllers to one clock; tests use it.
func (e *Engine) withClock(clock func() time.Time) *Engine {
	e.clock = clock
	e.resolver.clock = clock
	e.delays.clock = clock

	return e
}

// Advance activates the next eligible task starting after the current one
// (or at position 1 on workflow start). Conditionally skipped tasks collapse
// forward until the first runnable task or the workflow end.
func (e *Engine) Advance(ctx context.Context, wf *models.Workflow, res *TransitionResult) error {
	candidate := wf.CurrentTask + 1

	for candidate <= wf.TaskCount {
		task, ok := wf.TaskByNumber(candidate)
		if !ok {
			return fmt.Errorf("%w: task %d missing from workflow %s", ErrInvalidWorkflowConfiguration, candidate, wf.ID)
		}

		decision := EvaluateConditions(task, wf.FieldsBefore(task.Number))

		switch {
		case decision.Matched && decision.Action == models.ConditionActionSkipTask:
			// Skipped without materializing performers.
			task.Status = models.TaskStatusSkipped

			res.emit(events.TaskSkipped{
				BaseEvent:  e.base(wf, events.TaskSkippedEvent),
				TaskID:     task.ID,
				TaskNumber: task.Number,
			})

			candidate++

		case decision.Matched && decision.Action == models.ConditionActionEndWorkflow:
			// Remaining tasks are left untouched, not skipped.
			e.endWorkflow(wf, res, models.EndReasonByCondition, "")

			return nil

		default:
			return e.activateTask(ctx, wf, task, res)
		}
	}

	e.endWorkflow(wf, res, models.EndReasonCompleted, "")

	return nil
}

// Complete records one performer's completion of the current task and, when
// the task's completion semantics are satisfied, completes it and advances.
func (e *Engine) Complete(ctx context.Context, wf *models.Workflow, taskID, userID string) (*TransitionResult, error) {
	const op = "Complete"

	res := &TransitionResult{}

	if wf.Ended() {
		return nil, NewTransitionError(op, wf.ID, ErrAlreadyEnded)
	}

	if wf.Status != models.WorkflowStatusRunning {
		return nil, NewTransitionError(op, wf.ID, ErrWorkflowNotRunning)
	}

	task, ok := wf.TaskByID(taskID)
	if !ok || task.Number != wf.CurrentTask {
		return nil, NewTransitionError(op, wf.ID, ErrTaskNotCurrent)
	}

	if !task.ChecklistsDone() {
		return nil, NewTransitionError(op, wf.ID, ErrChecklistsIncomplete)
	}

	running, err := e.subs.CountRunningSubWorkflows(ctx, task.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to count sub-workflows: %w", err)
	}

	if running > 0 {
		return nil, NewTransitionError(op, wf.ID, ErrSubWorkflowsRunning)
	}

	performer, isOwner, err := e.completionRow(ctx, wf, task, userID)
	if err != nil {
		return nil, NewTransitionError(op, wf.ID, err)
	}

	now := e.clock()

	if performer != nil {
		performer.IsCompleted = true
		performer.DateCompleted = &now
	}

	res.emit(events.TaskCompleted{
		BaseEvent:   e.base(wf, events.TaskCompletedEvent),
		TaskID:      task.ID,
		TaskNumber:  task.Number,
		PerformerID: userID,
	})

	if !e.taskDeemedComplete(task, isOwner) {
		return res, nil
	}

	task.Status = models.TaskStatusCompleted
	task.DateCompleted = &now

	if err := e.Advance(ctx, wf, res); err != nil {
		return nil, err
	}

	return res, nil
}

// completionRow finds the performer row the completing user acts through: a
// direct user row, or an uncompleted group row the user belongs to. The
// account owner may complete without any row.
func (e *Engine) completionRow(ctx context.Context, wf *models.Workflow, task *models.Task, userID string) (*models.TaskPerformer, bool, error) {
	if p, found := task.PerformerForUser(userID); found && p.DirectlyStatus != models.DirectlyStatusDeleted {
		if p.IsCompleted {
			return nil, false, ErrAlreadyCompletedByUser
		}

		return p, false, nil
	}

	for _, p := range task.ActivePerformers() {
		if p.Kind != models.PerformerKindGroup {
			continue
		}

		member, err := e.resolver.directory.IsGroupMember(ctx, p.GroupID, userID)
		if err != nil {
			return nil, false, fmt.Errorf("failed to check group membership: %w", err)
		}

		if member {
			if p.IsCompleted {
				return nil, false, ErrAlreadyCompletedByUser
			}

			return p, false, nil
		}
	}

	owner, err := e.resolver.directory.AccountOwner(ctx, wf.AccountID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to look up account owner: %w", err)
	}

	if owner != "" && owner == userID {
		return nil, true, nil
	}

	return nil, false, ErrNotAPerformer
}

func (e *Engine) taskDeemedComplete(task *models.Task, byOwner bool) bool {
	if byOwner || !task.RequireCompletionByAll {
		return true
	}

	for _, p := range task.ActivePerformers() {
		if !p.IsCompleted {
			return false
		}
	}

	return true
}

// Revert steps the workflow back exactly one task. The predecessor is
// re-evaluated against its conditions; if it would be skipped now, the revert
// is rejected rather than cascading (skip-cascading only happens forward).
func (e *Engine) Revert(ctx context.Context, wf *models.Workflow) (*TransitionResult, error) {
	const op = "Revert"

	res := &TransitionResult{}

	if wf.Ended() {
		return nil, NewTransitionError(op, wf.ID, ErrAlreadyEnded)
	}

	if wf.Status != models.WorkflowStatusRunning {
		return nil, NewTransitionError(op, wf.ID, ErrTaskNotReturnable)
	}

	current, ok := wf.ActiveTask()
	if !ok {
		return nil, fmt.Errorf("%w: no task at position %d", ErrInvalidWorkflowConfiguration, wf.CurrentTask)
	}

	if !current.AllowRevert {
		return nil, NewTransitionError(op, wf.ID, ErrTaskNotReturnable)
	}

	running, err := e.subs.CountRunningSubWorkflows(ctx, current.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to count sub-workflows: %w", err)
	}

	if running > 0 {
		return nil, NewTransitionError(op, wf.ID, ErrSubWorkflowsRunning)
	}

	target, ok := e.revertTarget(wf, current)
	if !ok {
		return nil, NewTransitionError(op, wf.ID, ErrTaskNotReturnable)
	}

	if decision := EvaluateConditions(target, wf.FieldsBefore(target.Number)); decision.Matched {
		return nil, NewTransitionError(op, wf.ID, ErrTaskNotReturnable)
	}

	e.resetTask(current)
	e.resetCompletion(target)

	res.emit(events.TaskReverted{
		BaseEvent:  e.base(wf, events.TaskRevertedEvent),
		TaskID:     current.ID,
		TaskNumber: current.Number,
	})

	return res, e.activateTask(ctx, wf, target, res)
}

// revertTarget resolves the single-step revert destination: the explicit
// revert_task override when set, the immediate predecessor otherwise.
func (e *Engine) revertTarget(wf *models.Workflow, current *models.Task) (*models.Task, bool) {
	if current.RevertTask != "" {
		for _, t := range wf.Tasks {
			if t.APIName == current.RevertTask && t.Number < current.Number {
				return t, true
			}
		}

		return nil, false
	}

	if current.Number <= 1 {
		return nil, false
	}

	return wf.TaskByNumber(current.Number - 1)
}

// ReturnTo jumps the workflow back to an arbitrary earlier task, resetting
// everything after it. Returning to the current task is only allowed when
// the workflow is done (it reopens the run).
func (e *Engine) ReturnTo(ctx context.Context, wf *models.Workflow, targetTaskID string) (*TransitionResult, error) {
	const op = "ReturnTo"

	res := &TransitionResult{}

	if wf.Status == models.WorkflowStatusTerminated {
		return nil, NewTransitionError(op, wf.ID, ErrAlreadyEnded)
	}

	target, ok := wf.TaskByID(targetTaskID)
	if !ok {
		return nil, NewTransitionError(op, wf.ID, ErrInvalidReturnTarget)
	}

	if target.Number > wf.CurrentTask {
		return nil, NewTransitionError(op, wf.ID, ErrInvalidReturnTarget)
	}

	if target.Number == wf.CurrentTask && wf.Status != models.WorkflowStatusDone {
		return nil, NewTransitionError(op, wf.ID, ErrInvalidReturnTarget)
	}

	for _, t := range wf.Tasks {
		if t.Number < target.Number {
			continue
		}

		running, err := e.subs.CountRunningSubWorkflows(ctx, t.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to count sub-workflows: %w", err)
		}

		if running > 0 {
			return nil, NewTransitionError(op, wf.ID, ErrSubWorkflowsRunning)
		}
	}

	// You cannot return to a task that is currently conditionally skipped.
	if decision := EvaluateConditions(target, wf.FieldsBefore(target.Number)); decision.Matched {
		return nil, NewTransitionError(op, wf.ID, ErrInvalidReturnTarget)
	}

	fromNumber := wf.CurrentTask

	// Returning out of a paused workflow abandons the pause: close the open
	// delay on the task being left so it is history, not an open window on a
	// soon-to-be-pending task, and flip back to running so the target
	// activates exactly as advance would.
	if wf.Status == models.WorkflowStatusDelayed {
		if current, ok := wf.ActiveTask(); ok {
			e.delays.ForceEnd(wf, current)
		}

		wf.Status = models.WorkflowStatusRunning
	}

	for _, t := range wf.Tasks {
		if t.Number > target.Number {
			e.resetTask(t)
		}
	}

	e.resetCompletion(target)

	if wf.Status == models.WorkflowStatusDone {
		wf.Status = models.WorkflowStatusRunning
		wf.DateCompleted = nil
		wf.EndReason = ""
	}

	wf.RevertedTo = target.Number

	res.emit(events.WorkflowReverted{
		BaseEvent:      e.base(wf, events.WorkflowRevertedEvent),
		FromTaskNumber: fromNumber,
		ToTaskNumber:   target.Number,
	})

	return res, e.activateTask(ctx, wf, target, res)
}

// Finish terminates the workflow early regardless of remaining tasks.
func (e *Engine) Finish(ctx context.Context, wf *models.Workflow, userID string) (*TransitionResult, error) {
	const op = "Finish"

	res := &TransitionResult{}

	if wf.Ended() {
		return nil, NewTransitionError(op, wf.ID, ErrAlreadyEnded)
	}

	if !wf.Finalizable {
		return nil, NewTransitionError(op, wf.ID, ErrNotFinalizable)
	}

	owner, err := e.resolver.directory.AccountOwner(ctx, wf.AccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up account owner: %w", err)
	}

	if userID != wf.StarterID && userID != owner {
		return nil, NewTransitionError(op, wf.ID, ErrNotFinalizable)
	}

	e.endWorkflow(wf, res, models.EndReasonTerminated, userID)

	return res, nil
}

// ForceDelay pauses the workflow with a manual delay. Manual delays carry
// directly_status=created and win over template changes until resumed.
func (e *Engine) ForceDelay(ctx context.Context, wf *models.Workflow, duration models.Duration) (*TransitionResult, error) {
	const op = "ForceDelay"

	res := &TransitionResult{}

	if wf.Ended() {
		return nil, NewTransitionError(op, wf.ID, ErrAlreadyEnded)
	}

	if wf.Status != models.WorkflowStatusRunning {
		return nil, NewTransitionError(op, wf.ID, ErrWorkflowNotRunning)
	}

	task, ok := wf.ActiveTask()
	if !ok {
		return nil, fmt.Errorf("%w: no task at position %d", ErrInvalidWorkflowConfiguration, wf.CurrentTask)
	}

	delay := e.delays.Start(wf, task, duration, models.DirectlyStatusCreated)

	res.emit(events.WorkflowDelayed{
		BaseEvent:        e.base(wf, events.WorkflowDelayedEvent),
		TaskID:           task.ID,
		Duration:         duration,
		EstimatedEndDate: delay.EstimatedEndDate,
	})

	return res, nil
}

// ForceResume ends the current delay and flips the workflow back to running.
// An expired delay resumes like any other.
func (e *Engine) ForceResume(ctx context.Context, wf *models.Workflow) (*TransitionResult, error) {
	const op = "ForceResume"

	res := &TransitionResult{}

	if wf.Ended() {
		return nil, NewTransitionError(op, wf.ID, ErrAlreadyEnded)
	}

	if wf.Status != models.WorkflowStatusDelayed {
		return nil, NewTransitionError(op, wf.ID, ErrWorkflowNotDelayed)
	}

	task, ok := wf.ActiveTask()
	if !ok {
		return nil, fmt.Errorf("%w: no task at position %d", ErrInvalidWorkflowConfiguration, wf.CurrentTask)
	}

	if _, ended := e.delays.ForceEnd(wf, task); !ended {
		// No open delay row; still flip the statuses back.
		task.Status = models.TaskStatusActive
		wf.Status = models.WorkflowStatusRunning
	}

	res.emit(events.WorkflowResumed{
		BaseEvent: e.base(wf, events.WorkflowResumedEvent),
		TaskID:    task.ID,
	})

	return res, nil
}

// SetUrgency toggles the urgency flag.
func (e *Engine) SetUrgency(wf *models.Workflow, urgent bool) (*TransitionResult, error) {
	res := &TransitionResult{}

	if wf.Ended() {
		return nil, NewTransitionError("SetUrgency", wf.ID, ErrAlreadyEnded)
	}

	if wf.IsUrgent == urgent {
		return res, nil
	}

	wf.IsUrgent = urgent

	res.emit(events.WorkflowUrgencyChanged{
		BaseEvent: e.base(wf, events.WorkflowUrgencyChangedEvent),
		IsUrgent:  urgent,
	})

	return res, nil
}

// activateTask makes the task the current one: dates, performer resolution,
// due date and template delay setup, plus the single task-activated event.
func (e *Engine) activateTask(ctx context.Context, wf *models.Workflow, task *models.Task, res *TransitionResult) error {
	now := e.clock()

	task.Status = models.TaskStatusActive
	task.DateStarted = &now
	task.DateCompleted = nil

	if task.DateFirstStarted == nil {
		task.DateFirstStarted = &now
	}

	wf.CurrentTask = task.Number

	diff, err := e.resolver.Resolve(ctx, wf, task, ResolveOptions{})
	if err != nil {
		return err
	}

	if task.DueIn != nil {
		due := now.Add(task.DueIn.Std())
		task.DueDate = &due
		task.OverdueSent = false
	}

	res.emit(events.TaskActivated{
		BaseEvent:  e.base(wf, events.TaskActivatedEvent),
		TaskID:     task.ID,
		TaskNumber: task.Number,
		TaskName:   task.Name,
		UserIDs:    diff.AddedUserIDs,
		GroupIDs:   diff.AddedGroupIDs,
		DueDate:    task.DueDate,
	})

	if len(diff.RemovedUserIDs) > 0 {
		res.emit(events.NotificationsRevoked{
			BaseEvent: e.base(wf, events.NotificationsRevokedEvent),
			TaskID:    task.ID,
			UserIDs:   diff.RemovedUserIDs,
		})
	}

	if task.DelayDuration > 0 {
		delay := e.delays.Start(wf, task, task.DelayDuration, models.DirectlyStatusNone)
		if delay != nil && wf.Status == models.WorkflowStatusDelayed {
			res.emit(events.WorkflowDelayed{
				BaseEvent:        e.base(wf, events.WorkflowDelayedEvent),
				TaskID:           task.ID,
				Duration:         delay.Duration,
				EstimatedEndDate: delay.EstimatedEndDate,
			})
		}
	}

	return nil
}

// resetTask returns a task to its pre-activation state.
func (e *Engine) resetTask(task *models.Task) {
	task.Status = models.TaskStatusPending
	task.DateStarted = nil
	task.DateCompleted = nil
	task.DueDate = nil
	task.OverdueSent = false

	e.resetCompletion(task)
	e.delays.Reset(task)
}

// resetCompletion clears performer completion flags without touching manual
// add/remove overrides.
func (e *Engine) resetCompletion(task *models.Task) {
	task.DateCompleted = nil

	for _, p := range task.Performers {
		if p.DeletedAt != nil {
			continue
		}

		p.IsCompleted = false
		p.DateCompleted = nil
	}
}

func (e *Engine) endWorkflow(wf *models.Workflow, res *TransitionResult, reason models.EndReason, userID string) {
	now := e.clock()

	wf.Status = models.WorkflowStatusDone
	wf.EndReason = reason
	wf.DateCompleted = &now

	res.emit(events.WorkflowEnded{
		BaseEvent: e.base(wf, events.WorkflowEndedEvent),
		Reason:    reason,
		UserID:    userID,
	})
}
