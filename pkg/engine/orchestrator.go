package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/stepflow-io/stepflow/pkg/eventbus"
	"github.com/stepflow-io/stepflow/pkg/events"
	"github.com/stepflow-io/stepflow/pkg/locker"
	"github.com/stepflow-io/stepflow/pkg/metrics"
	"github.com/stepflow-io/stepflow/pkg/models"
	"github.com/stepflow-io/stepflow/pkg/otelhelper"
	"github.com/stepflow-io/stepflow/pkg/outbox"
	"github.com/stepflow-io/stepflow/pkg/persistence"
)

const (
	lockTTL         = 30 * time.Second
	lockWaitTimeout = 5 * time.Second
	maxLockAttempts = 3
)

// Orchestrator is the single entry point external collaborators call. It
// wraps every engine transition in the workflow lock, persists the mutated
// aggregate together with its outbox messages and activity log entries in
// one atomic save, and leaves outbound publishing to the relay. No outbound
// I/O ever runs while the lock is held.
type Orchestrator struct {
	engine  *Engine
	store   persistence.Persistence
	locks   locker.WorkflowLocker
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *metrics.Metrics
	clock   func() time.Time
}

func NewOrchestrator(store persistence.Persistence, locks locker.WorkflowLocker, directory Directory, logger *slog.Logger, m *metrics.Metrics) *Orchestrator {
	return &Orchestrator{
		engine:  New(directory, store.Workflows()),
		store:   store,
		locks:   locks,
		logger:  logger.With("module", "orchestrator"),
		tracer:  otel.Tracer("stepflow/engine"),
		metrics: m,
		clock:   time.Now,
	}
}

// RunWorkflow instantiates a template and advances to the first runnable
// task. The new aggregate is invisible to other callers until the save, so
// no lock is needed.
func (o *Orchestrator) RunWorkflow(ctx context.Context, templateID string, req RunRequest) (*models.Workflow, error) {
	ctx, span := otelhelper.StartSpan(ctx, o.tracer, "RunWorkflow",
		attribute.String(otelhelper.TemplateIDKey, templateID))
	defer span.End()

	template, err := o.store.Templates().GetByID(ctx, templateID)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("failed to fetch template %s: %w", templateID, err)
	}

	wf := o.engine.materialize(template, req)

	res := &TransitionResult{}
	res.emit(events.WorkflowStarted{
		BaseEvent:  o.engine.base(wf, events.WorkflowStartedEvent),
		TemplateID: template.ID,
		StarterID:  wf.StarterID,
		IsExternal: wf.IsExternal,
	})

	if err := o.engine.Advance(ctx, wf, res); err != nil {
		otelhelper.SetError(span, err)
		o.observe("RunWorkflow", err)

		return nil, err
	}

	if err := o.save(ctx, wf, res); err != nil {
		otelhelper.SetError(span, err)
		o.observe("RunWorkflow", err)

		return nil, err
	}

	o.observe("RunWorkflow", nil)
	o.logger.InfoContext(ctx, "Workflow started",
		"workflow_id", wf.ID, "template_id", template.ID, "current_task", wf.CurrentTask)

	return wf, nil
}

// CompleteTask records a performer completion on the current task.
func (o *Orchestrator) CompleteTask(ctx context.Context, workflowID, taskID, userID string) error {
	return o.transition(ctx, "CompleteTask", workflowID, func(ctx context.Context, wf *models.Workflow) (*TransitionResult, error) {
		return o.engine.Complete(ctx, wf, taskID, userID)
	})
}

// RevertTask steps the workflow back exactly one task.
func (o *Orchestrator) RevertTask(ctx context.Context, workflowID string) error {
	return o.transition(ctx, "RevertTask", workflowID, func(ctx context.Context, wf *models.Workflow) (*TransitionResult, error) {
		return o.engine.Revert(ctx, wf)
	})
}

// ReturnToTask jumps the workflow back to an arbitrary earlier task.
func (o *Orchestrator) ReturnToTask(ctx context.Context, workflowID, taskID string) error {
	return o.transition(ctx, "ReturnToTask", workflowID, func(ctx context.Context, wf *models.Workflow) (*TransitionResult, error) {
		return o.engine.ReturnTo(ctx, wf, taskID)
	})
}

// ForceDelay pauses the workflow with a manual delay window.
func (o *Orchestrator) ForceDelay(ctx context.Context, workflowID string, duration models.Duration) error {
	return o.transition(ctx, "ForceDelay", workflowID, func(ctx context.Context, wf *models.Workflow) (*TransitionResult, error) {
		return o.engine.ForceDelay(ctx, wf, duration)
	})
}

// ForceResume ends the current delay early.
func (o *Orchestrator) ForceResume(ctx context.Context, workflowID string) error {
	return o.transition(ctx, "ForceResume", workflowID, func(ctx context.Context, wf *models.Workflow) (*TransitionResult, error) {
		return o.engine.ForceResume(ctx, wf)
	})
}

// FinishWorkflow terminates the workflow early.
func (o *Orchestrator) FinishWorkflow(ctx context.Context, workflowID, userID string) error {
	return o.transition(ctx, "FinishWorkflow", workflowID, func(ctx context.Context, wf *models.Workflow) (*TransitionResult, error) {
		return o.engine.Finish(ctx, wf, userID)
	})
}

// SetUrgency toggles the workflow urgency flag.
func (o *Orchestrator) SetUrgency(ctx context.Context, workflowID string, urgent bool) error {
	return o.transition(ctx, "SetUrgency", workflowID, func(_ context.Context, wf *models.Workflow) (*TransitionResult, error) {
		return o.engine.SetUrgency(wf, urgent)
	})
}

// ResumeExpiredDelays resumes every delayed workflow whose delay window has
// run out. Called by the scheduler under a lease.
func (o *Orchestrator) ResumeExpiredDelays(ctx context.Context) error {
	ids, err := o.store.Workflows().ListExpiredDelays(ctx, o.clock())
	if err != nil {
		return fmt.Errorf("failed to list expired delays: %w", err)
	}

	for _, id := range ids {
		err := o.transition(ctx, "ResumeExpiredDelays", id, func(_ context.Context, wf *models.Workflow) (*TransitionResult, error) {
			// Re-check under the lock: a manual resume may have won the race.
			if wf.Status != models.WorkflowStatusDelayed {
				return &TransitionResult{}, nil
			}

			task, ok := wf.ActiveTask()
			if !ok {
				return &TransitionResult{}, nil
			}

			if delay, open := task.OpenDelay(); !open || !delay.IsExpired(o.clock()) {
				return &TransitionResult{}, nil
			}

			return o.engine.ForceResume(ctx, wf)
		})
		if err != nil {
			o.logger.ErrorContext(ctx, "Failed to resume expired delay", "workflow_id", id, "error", err)
		}
	}

	return nil
}

// OverdueScan emits one overdue event per task whose due date has passed.
func (o *Orchestrator) OverdueScan(ctx context.Context) error {
	rows, err := o.store.Workflows().ListOverdueTasks(ctx, o.clock())
	if err != nil {
		return fmt.Errorf("failed to list overdue tasks: %w", err)
	}

	for _, row := range rows {
		row := row

		err := o.transition(ctx, "OverdueScan", row.WorkflowID, func(_ context.Context, wf *models.Workflow) (*TransitionResult, error) {
			res := &TransitionResult{}

			task, ok := wf.TaskByID(row.TaskID)
			if !ok || task.OverdueSent || task.DueDate == nil || !task.DueDate.Before(o.clock()) {
				return res, nil
			}

			if task.Status != models.TaskStatusActive && task.Status != models.TaskStatusDelayed {
				return res, nil
			}

			task.OverdueSent = true

			res.emit(events.TaskOverdue{
				BaseEvent:  o.engine.base(wf, events.TaskOverdueEvent),
				TaskID:     task.ID,
				TaskNumber: task.Number,
				DueDate:    *task.DueDate,
			})

			return res, nil
		})
		if err != nil {
			o.logger.ErrorContext(ctx, "Failed to mark task overdue",
				"workflow_id", row.WorkflowID, "task_id", row.TaskID, "error", err)
		}
	}

	return nil
}

// transition runs one engine transition under the workflow lock with a
// bounded retry budget for lock contention.
func (o *Orchestrator) transition(ctx context.Context, op, workflowID string, apply func(context.Context, *models.Workflow) (*TransitionResult, error)) error {
	ctx, span := otelhelper.StartSpan(ctx, o.tracer, op,
		attribute.String(otelhelper.WorkflowIDKey, workflowID))
	defer span.End()

	started := o.clock()

	err := o.transitionLocked(ctx, workflowID, apply)
	if err != nil {
		otelhelper.SetError(span, err)
	}

	o.observe(op, err)

	if o.metrics != nil {
		o.metrics.TransitionTime.WithLabelValues(op).Observe(o.clock().Sub(started).Seconds())
	}

	return err
}

func (o *Orchestrator) transitionLocked(ctx context.Context, workflowID string, apply func(context.Context, *models.Workflow) (*TransitionResult, error)) error {
	for attempt := 1; ; attempt++ {
		err := o.attempt(ctx, workflowID, apply)
		if err == nil || !errors.Is(err, locker.ErrLockBusy) {
			return err
		}

		if o.metrics != nil {
			o.metrics.LockRetries.Inc()
		}

		if attempt >= maxLockAttempts {
			return NewTransitionError("Lock", workflowID, ErrTransitionConflict)
		}

		// Jittered backoff before re-contending the lock.
		select {
		case <-ctx.Done():
			return NewTransitionError("Lock", workflowID, ErrTransitionConflict)
		case <-time.After(time.Duration(rand.Intn(100*attempt)) * time.Millisecond):
		}
	}
}

func (o *Orchestrator) attempt(ctx context.Context, workflowID string, apply func(context.Context, *models.Workflow) (*TransitionResult, error)) error {
	lockCtx, cancel := context.WithTimeout(ctx, lockWaitTimeout)
	defer cancel()

	release, err := o.locks.Acquire(lockCtx, workflowID, lockTTL)
	if err != nil {
		return err
	}
	defer release()

	wf, err := o.store.Workflows().GetByID(ctx, workflowID)
	if err != nil {
		return err
	}

	res, err := apply(ctx, wf)
	if err != nil {
		return err
	}

	if len(res.Events) == 0 {
		return nil
	}

	return o.save(ctx, wf, res)
}

// save persists the aggregate and the transition's side effects atomically:
// outbox messages (core events plus their webhook dispatches) and activity
// log entries.
func (o *Orchestrator) save(ctx context.Context, wf *models.Workflow, res *TransitionResult) error {
	now := o.clock()

	messages := make([]outbox.Message, 0, len(res.Events)*2)
	entries := make([]persistence.EventLogEntry, 0, len(res.Events))

	for _, event := range res.Events {
		msg, err := outbox.NewMessage(wf.ID, event, now)
		if err != nil {
			return fmt.Errorf("failed to serialize event: %w", err)
		}

		messages = append(messages, msg)
		entries = append(entries, o.logEntry(wf, event, msg.Payload, now))

		if hook, ok := o.webhookFor(wf, event, now); ok {
			hookMsg, err := outbox.NewMessage(wf.ID, hook, now)
			if err != nil {
				return fmt.Errorf("failed to serialize webhook event: %w", err)
			}

			messages = append(messages, hookMsg)
		}
	}

	if err := o.store.Workflows().Save(ctx, wf, messages, entries); err != nil {
		return fmt.Errorf("failed to save workflow %s: %w", wf.ID, err)
	}

	return nil
}

// webhookFor maps lifecycle events to outbound webhook dispatches. Internal
// bookkeeping events carry no webhook.
func (o *Orchestrator) webhookFor(wf *models.Workflow, event eventbus.Event, now time.Time) (events.WebhookDispatch, bool) {
	switch event.GetType() {
	case events.WorkflowStartedEvent, events.WorkflowEndedEvent,
		events.TaskActivatedEvent, events.TaskCompletedEvent, events.TaskRevertedEvent:
	default:
		return events.WebhookDispatch{}, false
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return events.WebhookDispatch{}, false
	}

	var body map[string]any
	if err := json.Unmarshal(payload, &body); err != nil {
		return events.WebhookDispatch{}, false
	}

	return events.WebhookDispatch{
		BaseEvent: events.BaseEvent{
			ID:         o.engine.newID(),
			Type:       events.WebhookDispatchEvent,
			Timestamp:  now,
			AccountID:  wf.AccountID,
			WorkflowID: wf.ID,
		},
		EventName: string(event.GetType()),
		Payload:   body,
	}, true
}

func (o *Orchestrator) logEntry(wf *models.Workflow, event eventbus.Event, payload json.RawMessage, now time.Time) persistence.EventLogEntry {
	entry := persistence.EventLogEntry{
		ID:         o.engine.newID(),
		Type:       string(event.GetType()),
		AccountID:  wf.AccountID,
		WorkflowID: wf.ID,
		Payload:    payload,
		CreatedAt:  now,
	}

	switch e := event.(type) {
	case events.TaskActivated:
		entry.TaskID = e.TaskID
	case events.TaskCompleted:
		entry.TaskID = e.TaskID
		entry.UserID = e.PerformerID
	case events.TaskSkipped:
		entry.TaskID = e.TaskID
	case events.TaskReverted:
		entry.TaskID = e.TaskID
	case events.TaskOverdue:
		entry.TaskID = e.TaskID
	case events.WorkflowEnded:
		entry.UserID = e.UserID
	case events.WorkflowStarted:
		entry.UserID = e.StarterID
	}

	return entry
}

func (o *Orchestrator) observe(op string, err error) {
	if o.metrics == nil {
		return
	}

	outcome := "success"

	switch {
	case err == nil:
	case IsValidationError(err):
		outcome = "rejected"
	case IsTransientError(err):
		outcome = "conflict"
	default:
		outcome = "error"
	}

	o.metrics.Transitions.WithLabelValues(op, outcome).Inc()
}
