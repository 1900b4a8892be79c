// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"time"

	"github.com/google/uuid"
	"github.com/stepflow-io/stepflow/pkg/models"
)

// CreateTestWorkflow creates a running two-task workflow with default values
// that can be overridden. Task 1 is active with a single user performer.
func CreateTestWorkflow(overrides ...func(*models.Workflow)) *models.Workflow {
	now := time.Now().UTC()

	wf := &models.Workflow{
		ID:          uuid.New().String(),
		AccountID:   "acc-1",
		TemplateID:  uuid.New().String(),
		Name:        "Test Workflow",
		Status:      models.WorkflowStatusRunning,
		CurrentTask: 1,
		StarterID:   "user-starter",
		Members:     []string{"user-starter"},
		DateCreated: now,
	}

	for number := 1; number <= 2; number++ {
		wf.Tasks = append(wf.Tasks, CreateTestTask(wf.ID, number))
	}

	wf.TaskCount = len(wf.Tasks)
	wf.Tasks[0].Status = models.TaskStatusActive
	wf.Tasks[0].DateStarted = &now
	wf.Tasks[0].DateFirstStarted = &now

	for _, override := range overrides {
		override(wf)
	}

	return wf
}

// CreateTestTask creates a pending task with a single user performer already
// materialized.
func CreateTestTask(workflowID string, number int, overrides ...func(*models.Task)) *models.Task {
	task := &models.Task{
		ID:          uuid.New().String(),
		WorkflowID:  workflowID,
		Number:      number,
		Name:        "Task " + string(rune('0'+number)),
		APIName:     "task_" + string(rune('0'+number)),
		Status:      models.TaskStatusPending,
		AllowRevert: true,
	}

	userID := "user-" + string(rune('0'+number))
	task.RawPerformers = []*models.RawPerformer{{
		ID:     uuid.New().String(),
		Kind:   models.PerformerKindUser,
		UserID: userID,
	}}
	task.Performers = []*models.TaskPerformer{{
		ID:             uuid.New().String(),
		TaskID:         task.ID,
		Kind:           models.PerformerKindUser,
		UserID:         userID,
		DirectlyStatus: models.DirectlyStatusNone,
	}}

	for _, override := range overrides {
		override(task)
	}

	return task
}

// WithTasks replaces the workflow's tasks and fixes the task count.
func WithTasks(tasks ...*models.Task) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.Tasks = tasks
		w.TaskCount = len(tasks)

		for _, t := range tasks {
			t.WorkflowID = w.ID
		}
	}
}

// WithStatus sets the workflow status.
func WithStatus(status models.WorkflowStatus) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.Status = status
	}
}

// WithKickoff sets the kickoff field values.
func WithKickoff(fields ...models.FieldValue) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.Kickoff = fields
	}
}

// WithCurrentTask moves the position pointer.
func WithCurrentTask(number int) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.CurrentTask = number
	}
}

// WithFinalizable marks the workflow as manually terminable.
func WithFinalizable() func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.Finalizable = true
	}
}

// CreateTestTemplate creates a template with the given task templates.
func CreateTestTemplate(tasks ...*models.TaskTemplate) *models.Template {
	now := time.Now().UTC()

	if len(tasks) == 0 {
		tasks = []*models.TaskTemplate{
			CreateTestTaskTemplate(1),
			CreateTestTaskTemplate(2),
		}
	}

	return &models.Template{
		ID:        uuid.New().String(),
		AccountID: "acc-1",
		Name:      "Test Template",
		IsActive:  true,
		Tasks:     tasks,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// CreateTestTaskTemplate creates a task template with a single user performer.
func CreateTestTaskTemplate(number int, overrides ...func(*models.TaskTemplate)) *models.TaskTemplate {
	tt := &models.TaskTemplate{
		Number:      number,
		Name:        "Task " + string(rune('0'+number)),
		APIName:     "task_" + string(rune('0'+number)),
		AllowRevert: true,
		RawPerformers: []*models.RawPerformer{{
			Kind:   models.PerformerKindUser,
			UserID: "user-" + string(rune('0'+number)),
		}},
	}

	for _, override := range overrides {
		override(tt)
	}

	return tt
}
