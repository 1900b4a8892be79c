// Package memory provides the in-memory persistence implementation used by
// tests and single-process development runs.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/stepflow-io/stepflow/pkg/models"
	"github.com/stepflow-io/stepflow/pkg/outbox"
	"github.com/stepflow-io/stepflow/pkg/persistence"
)

// Persistence keeps everything behind one RWMutex. Aggregates are deep-copied
// on the way in and out, so callers can never mutate stored state outside a
// Save.
type Persistence struct {
	mu        sync.RWMutex
	workflows map[string]*models.Workflow
	templates map[string]*models.Template
	outbox    []outbox.Message
	eventLog  []persistence.EventLogEntry
}

func NewPersistence() *Persistence {
	return &Persistence{
		workflows: make(map[string]*models.Workflow),
		templates: make(map[string]*models.Template),
	}
}

func (p *Persistence) Workflows() persistence.WorkflowRepository { return (*workflowRepo)(p) }
func (p *Persistence) Templates() persistence.TemplateRepository { return (*templateRepo)(p) }
func (p *Persistence) Outbox() outbox.Repository                 { return (*outboxRepo)(p) }
func (p *Persistence) EventLog() persistence.EventLogRepository  { return (*eventLogRepo)(p) }

func (p *Persistence) HealthCheck(_ context.Context) error { return nil }
func (p *Persistence) Close(_ context.Context) error       { return nil }

func copyValue[T any](src *T) *T {
	data, err := json.Marshal(src)
	if err != nil {
		panic(err) // aggregates are always JSON-serializable
	}

	dst := new(T)
	if err := json.Unmarshal(data, dst); err != nil {
		panic(err)
	}

	return dst
}

type workflowRepo Persistence

func (r *workflowRepo) GetByID(_ context.Context, id string) (*models.Workflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	wf, ok := r.workflows[id]
	if !ok || wf.DeletedAt != nil {
		return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
	}

	return copyValue(wf), nil
}

func (r *workflowRepo) Save(_ context.Context, workflow *models.Workflow, messages []outbox.Message, entries []persistence.EventLogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.workflows[workflow.ID] = copyValue(workflow)
	r.outbox = append(r.outbox, messages...)
	r.eventLog = append(r.eventLog, entries...)

	return nil
}

func (r *workflowRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	wf, ok := r.workflows[id]
	if !ok || wf.DeletedAt != nil {
		return persistence.NewWorkflowError("Delete", id, persistence.ErrWorkflowNotFound)
	}

	now := time.Now()
	wf.DeletedAt = &now

	return nil
}

func (r *workflowRepo) ListExpiredDelays(_ context.Context, now time.Time) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string

	for _, wf := range r.workflows {
		if wf.DeletedAt != nil || wf.Status != models.WorkflowStatusDelayed {
			continue
		}

		task, ok := wf.ActiveTask()
		if !ok {
			continue
		}

		if delay, open := task.OpenDelay(); open && delay.IsExpired(now) {
			ids = append(ids, wf.ID)
		}
	}

	sort.Strings(ids)

	return ids, nil
}

func (r *workflowRepo) ListOverdueTasks(_ context.Context, now time.Time) ([]persistence.OverdueTask, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []persistence.OverdueTask

	for _, wf := range r.workflows {
		if wf.DeletedAt != nil || wf.Ended() {
			continue
		}

		for _, task := range wf.Tasks {
			if task.Status != models.TaskStatusActive && task.Status != models.TaskStatusDelayed {
				continue
			}

			if task.OverdueSent || task.DueDate == nil || !task.DueDate.Before(now) {
				continue
			}

			out = append(out, persistence.OverdueTask{
				WorkflowID: wf.ID,
				AccountID:  wf.AccountID,
				TaskID:     task.ID,
				TaskNumber: task.Number,
				DueDate:    *task.DueDate,
			})
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].DueDate.Before(out[j].DueDate) })

	return out, nil
}

func (r *workflowRepo) CountRunningSubWorkflows(_ context.Context, taskID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0

	for _, wf := range r.workflows {
		if wf.DeletedAt == nil && wf.AncestorTaskID == taskID && !wf.Ended() {
			count++
		}
	}

	return count, nil
}

type templateRepo Persistence

func (r *templateRepo) GetByID(_ context.Context, id string) (*models.Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tpl, ok := r.templates[id]
	if !ok || tpl.DeletedAt != nil {
		return nil, persistence.ErrTemplateNotFound
	}

	return copyValue(tpl), nil
}

func (r *templateRepo) Save(_ context.Context, template *models.Template) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.templates[template.ID] = copyValue(template)

	return nil
}

type outboxRepo Persistence

func (r *outboxRepo) ListUnpublished(_ context.Context, limit int) ([]outbox.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []outbox.Message

	for _, m := range r.outbox {
		if m.PublishedAt == nil {
			out = append(out, m)
		}

		if limit > 0 && len(out) >= limit {
			break
		}
	}

	return out, nil
}

func (r *outboxRepo) MarkPublished(_ context.Context, ids []string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	marked := make(map[string]bool, len(ids))
	for _, id := range ids {
		marked[id] = true
	}

	for i := range r.outbox {
		if marked[r.outbox[i].ID] && r.outbox[i].PublishedAt == nil {
			at := at
			r.outbox[i].PublishedAt = &at
		}
	}

	return nil
}

type eventLogRepo Persistence

func (r *eventLogRepo) ListByWorkflow(_ context.Context, workflowID string, limit int) ([]persistence.EventLogEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []persistence.EventLogEntry

	for _, e := range r.eventLog {
		if e.WorkflowID == workflowID {
			out = append(out, e)
		}

		if limit > 0 && len(out) >= limit {
			break
		}
	}

	return out, nil
}
