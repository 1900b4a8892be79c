// Package events defines the typed outbound events emitted once per logical
// workflow transition.
package events

import (
	"time"

	"github.com/stepflow-io/stepflow/pkg/models"
)

type EventType string

// Topic is the single bus topic all workflow lifecycle events are published on.
const Topic = "stepflow.events"

const EventKeyMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	WorkflowStartedEvent        EventType = "workflow.started"
	WorkflowRevertedEvent       EventType = "workflow.reverted"
	WorkflowDelayedEvent        EventType = "workflow.delayed"
	WorkflowResumedEvent        EventType = "workflow.resumed"
	WorkflowEndedEvent          EventType = "workflow.ended"
	WorkflowUrgencyChangedEvent EventType = "workflow.urgency.changed"

	TaskActivatedEvent EventType = "task.activated"
	TaskCompletedEvent EventType = "task.completed"
	TaskSkippedEvent   EventType = "task.skipped"
	TaskRevertedEvent  EventType = "task.reverted"
	TaskOverdueEvent   EventType = "task.overdue"

	WebhookDispatchEvent      EventType = "webhook.dispatch"
	NotificationsRevokedEvent EventType = "notifications.revoked"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	AccountID  string         `json:"account_id"`
	WorkflowID string         `json:"workflow_id"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

type WorkflowStarted struct {
	BaseEvent

	TemplateID string `json:"template_id"`
	StarterID  string `json:"starter_id,omitempty"`
	IsExternal bool   `json:"is_external"`
}

func (e WorkflowStarted) GetType() EventType {
	return WorkflowStartedEvent
}

type TaskActivated struct {
	BaseEvent

	TaskID     string   `json:"task_id"`
	TaskNumber int      `json:"task_number"`
	TaskName   string   `json:"task_name"`
	UserIDs    []string `json:"user_ids,omitempty"`
	GroupIDs   []string `json:"group_ids,omitempty"`
	DueDate    *time.Time `json:"due_date,omitempty"`
}

func (e TaskActivated) GetType() EventType {
	return TaskActivatedEvent
}

type TaskCompleted struct {
	BaseEvent

	TaskID      string `json:"task_id"`
	TaskNumber  int    `json:"task_number"`
	PerformerID string `json:"performer_id"`
}

func (e TaskCompleted) GetType() EventType {
	return TaskCompletedEvent
}

type TaskSkipped struct {
	BaseEvent

	TaskID     string `json:"task_id"`
	TaskNumber int    `json:"task_number"`
}

func (e TaskSkipped) GetType() EventType {
	return TaskSkippedEvent
}

type TaskReverted struct {
	BaseEvent

	TaskID     string `json:"task_id"`
	TaskNumber int    `json:"task_number"`
}

func (e TaskReverted) GetType() EventType {
	return TaskRevertedEvent
}

type TaskOverdue struct {
	BaseEvent

	TaskID     string    `json:"task_id"`
	TaskNumber int       `json:"task_number"`
	DueDate    time.Time `json:"due_date"`
}

func (e TaskOverdue) GetType() EventType {
	return TaskOverdueEvent
}

type WorkflowReverted struct {
	BaseEvent

	FromTaskNumber int `json:"from_task_number"`
	ToTaskNumber   int `json:"to_task_number"`
}

func (e WorkflowReverted) GetType() EventType {
	return WorkflowRevertedEvent
}

type WorkflowDelayed struct {
	BaseEvent

	TaskID           string     `json:"task_id"`
	Duration         models.Duration `json:"duration"`
	EstimatedEndDate *time.Time `json:"estimated_end_date,omitempty"`
}

func (e WorkflowDelayed) GetType() EventType {
	return WorkflowDelayedEvent
}

type WorkflowResumed struct {
	BaseEvent

	TaskID string `json:"task_id"`
}

func (e WorkflowResumed) GetType() EventType {
	return WorkflowResumedEvent
}

type WorkflowEnded struct {
	BaseEvent

	Reason models.EndReason `json:"reason"`
	UserID string           `json:"user_id,omitempty"` // set for manual termination
}

func (e WorkflowEnded) GetType() EventType {
	return WorkflowEndedEvent
}

type WorkflowUrgencyChanged struct {
	BaseEvent

	IsUrgent bool `json:"is_urgent"`
}

func (e WorkflowUrgencyChanged) GetType() EventType {
	return WorkflowUrgencyChangedEvent
}

// WebhookDispatch asks the delivery layer to POST the payload to every hook
// the account subscribed for the event name.
type WebhookDispatch struct {
	BaseEvent

	EventName string         `json:"event_name"`
	Payload   map[string]any `json:"payload,omitempty"`
}

func (e WebhookDispatch) GetType() EventType {
	return WebhookDispatchEvent
}

// NotificationsRevoked tells the delivery layer to drop pending notifications
// addressed to users who are no longer performers of the task.
type NotificationsRevoked struct {
	BaseEvent

	TaskID  string   `json:"task_id"`
	UserIDs []string `json:"user_ids"`
}

func (e NotificationsRevoked) GetType() EventType {
	return NotificationsRevokedEvent
}
