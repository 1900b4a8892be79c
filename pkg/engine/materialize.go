package engine

import (
	"github.com/stepflow-io/stepflow/pkg/models"
)

// RunRequest carries everything needed to instantiate a template.
type RunRequest struct {
	Name           string // run name; template name when empty
	StarterID      string // empty for external runs
	IsExternal     bool
	IsUrgent       bool
	AncestorTaskID string // set when spawned as a sub-workflow
	Kickoff        []models.FieldValue
}

// materialize instantiates a workflow aggregate from a template snapshot.
// Task, performer and condition definitions are copied so later template
// edits never reach in-flight runs.
func (e *Engine) materialize(template *models.Template, req RunRequest) *models.Workflow {
	now := e.clock()

	name := req.Name
	if name == "" {
		name = template.Name
	}

	wf := &models.Workflow{
		ID:             e.newID(),
		AccountID:      template.AccountID,
		TemplateID:     template.ID,
		Name:           name,
		Status:         models.WorkflowStatusRunning,
		TaskCount:      len(template.Tasks),
		IsUrgent:       req.IsUrgent,
		IsExternal:     req.IsExternal,
		Finalizable:    template.Finalizable,
		StarterID:      req.StarterID,
		AncestorTaskID: req.AncestorTaskID,
		DateCreated:    now,
		Kickoff:        req.Kickoff,
	}

	wf.AddMember(req.StarterID)

	for _, tt := range template.Tasks {
		task := &models.Task{
			ID:                     e.newID(),
			WorkflowID:             wf.ID,
			Number:                 tt.Number,
			Name:                   tt.Name,
			APIName:                tt.APIName,
			Status:                 models.TaskStatusPending,
			RequireCompletionByAll: tt.RequireCompletionByAll,
			AllowRevert:            tt.AllowRevert,
			RevertTask:             tt.RevertTask,
			Ancestors:              tt.Ancestors,
			DueIn:                  tt.DueIn,
			DelayDuration:          tt.DelayDuration,
			ChecklistsTotal:        tt.ChecklistsTotal,
		}

		for _, rp := range tt.RawPerformers {
			task.RawPerformers = append(task.RawPerformers, &models.RawPerformer{
				ID:           e.newID(),
				Kind:         rp.Kind,
				UserID:       rp.UserID,
				GroupID:      rp.GroupID,
				FieldAPIName: rp.FieldAPIName,
			})
		}

		for _, c := range tt.Conditions {
			cond := &models.Condition{
				ID:     e.newID(),
				Action: c.Action,
				Order:  c.Order,
			}
			cond.Rules = append(cond.Rules, c.Rules...)
			task.Conditions = append(task.Conditions, cond)
		}

		wf.Tasks = append(wf.Tasks, task)
	}

	return wf
}
