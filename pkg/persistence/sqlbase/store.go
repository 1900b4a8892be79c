package sqlbase

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/stepflow-io/stepflow/pkg/events"
	"github.com/stepflow-io/stepflow/pkg/models"
	"github.com/stepflow-io/stepflow/pkg/outbox"
	"github.com/stepflow-io/stepflow/pkg/persistence"
)

// Store implements persistence.Persistence over a database/sql handle. The
// workflow aggregate is stored as one JSON document per row; the columns next
// to it exist only for scan and scoping queries. Placeholders use the $N form,
// which both postgres and sqlite accept.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStore wraps an already-open and migrated database handle.
func NewStore(logger *slog.Logger, db *sql.DB) *Store {
	return &Store{db: db, logger: logger}
}

func (s *Store) Workflows() persistence.WorkflowRepository { return (*workflowRepo)(s) }
func (s *Store) Templates() persistence.TemplateRepository { return (*templateRepo)(s) }
func (s *Store) Outbox() outbox.Repository                 { return (*outboxRepo)(s) }
func (s *Store) EventLog() persistence.EventLogRepository  { return (*eventLogRepo)(s) }

func (s *Store) HealthCheck(ctx context.Context) error {
	err := s.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	return nil
}

func (s *Store) Close(_ context.Context) error {
	return s.db.Close()
}

// DB exposes the underlying handle for integration tests.
func (s *Store) DB() *sql.DB {
	return s.db
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}

	return sql.NullTime{Time: t.UTC(), Valid: true}
}

type workflowRepo Store

func (r *workflowRepo) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	var data []byte

	err := r.db.QueryRowContext(ctx,
		`SELECT data FROM workflows WHERE id = $1 AND deleted_at IS NULL`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
	}

	if err != nil {
		return nil, persistence.NewWorkflowError("GetByID", id, err)
	}

	var workflow models.Workflow
	if err := json.Unmarshal(data, &workflow); err != nil {
		return nil, persistence.NewWorkflowError("GetByID", id, fmt.Errorf("unmarshal aggregate: %w", err))
	}

	return &workflow, nil
}

// delayResumeAt derives the instant the resume scan should pick the workflow
// up at: the estimated end of the active task's started open delay.
func delayResumeAt(workflow *models.Workflow) *time.Time {
	if workflow.Status != models.WorkflowStatusDelayed {
		return nil
	}

	task, ok := workflow.ActiveTask()
	if !ok {
		return nil
	}

	delay, open := task.OpenDelay()
	if !open || delay.StartDate == nil {
		return nil
	}

	return delay.EstimatedEndDate
}

func (r *workflowRepo) Save(ctx context.Context, workflow *models.Workflow, messages []outbox.Message, entries []persistence.EventLogEntry) error {
	data, err := json.Marshal(workflow)
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, fmt.Errorf("marshal aggregate: %w", err))
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO workflows (id, account_id, template_id, status, ancestor_task_id, delay_resume_at, deleted_at, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			ancestor_task_id = EXCLUDED.ancestor_task_id,
			delay_resume_at = EXCLUDED.delay_resume_at,
			deleted_at = EXCLUDED.deleted_at,
			data = EXCLUDED.data,
			updated_at = EXCLUDED.updated_at`,
		workflow.ID, workflow.AccountID, workflow.TemplateID, string(workflow.Status),
		nullString(workflow.AncestorTaskID), nullTime(delayResumeAt(workflow)),
		nullTime(workflow.DeletedAt), string(data), workflow.DateCreated.UTC(), now)
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	if err := r.saveDeadlines(ctx, tx, workflow); err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	for _, m := range messages {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO outbox_messages (id, key, event_type, payload, created_at, published_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			m.ID, m.Key, string(m.EventType), string(m.Payload), m.CreatedAt.UTC(), nullTime(m.PublishedAt))
		if err != nil {
			return persistence.NewWorkflowError("Save", workflow.ID, fmt.Errorf("insert outbox message: %w", err))
		}
	}

	for _, e := range entries {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO event_log (id, event_type, account_id, workflow_id, task_id, user_id, payload, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			e.ID, e.Type, e.AccountID, e.WorkflowID, nullString(e.TaskID), nullString(e.UserID),
			nullString(string(e.Payload)), e.CreatedAt.UTC())
		if err != nil {
			return persistence.NewWorkflowError("Save", workflow.ID, fmt.Errorf("insert event log entry: %w", err))
		}
	}

	if err := tx.Commit(); err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	return nil
}

// saveDeadlines rewrites the overdue-scan read model rows for the workflow.
func (r *workflowRepo) saveDeadlines(ctx context.Context, tx *sql.Tx, workflow *models.Workflow) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM task_deadlines WHERE workflow_id = $1`, workflow.ID)
	if err != nil {
		return fmt.Errorf("clear task deadlines: %w", err)
	}

	if workflow.DeletedAt != nil || workflow.Ended() {
		return nil
	}

	for _, task := range workflow.Tasks {
		if task.DueDate == nil || task.OverdueSent {
			continue
		}

		if task.Status != models.TaskStatusActive && task.Status != models.TaskStatusDelayed {
			continue
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO task_deadlines (task_id, workflow_id, account_id, task_number, due_date)
			VALUES ($1, $2, $3, $4, $5)`,
			task.ID, workflow.ID, workflow.AccountID, task.Number, task.DueDate.UTC())
		if err != nil {
			return fmt.Errorf("insert task deadline: %w", err)
		}
	}

	return nil
}

func (r *workflowRepo) Delete(ctx context.Context, id string) error {
	now := time.Now().UTC()

	res, err := r.db.ExecContext(ctx, `
		UPDATE workflows SET deleted_at = $2, updated_at = $2
		WHERE id = $1 AND deleted_at IS NULL`, id, now)
	if err != nil {
		return persistence.NewWorkflowError("Delete", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return persistence.NewWorkflowError("Delete", id, err)
	}

	if affected == 0 {
		return persistence.NewWorkflowError("Delete", id, persistence.ErrWorkflowNotFound)
	}

	_, err = r.db.ExecContext(ctx, `DELETE FROM task_deadlines WHERE workflow_id = $1`, id)
	if err != nil {
		return persistence.NewWorkflowError("Delete", id, err)
	}

	return nil
}

func (r *workflowRepo) ListExpiredDelays(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id FROM workflows
		WHERE status = $1 AND deleted_at IS NULL
		  AND delay_resume_at IS NOT NULL AND delay_resume_at < $2
		ORDER BY id`,
		string(models.WorkflowStatusDelayed), now.UTC())
	if err != nil {
		return nil, fmt.Errorf("list expired delays: %w", err)
	}
	defer rows.Close()

	var ids []string

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan expired delay row: %w", err)
		}

		ids = append(ids, id)
	}

	return ids, rows.Err()
}

func (r *workflowRepo) ListOverdueTasks(ctx context.Context, now time.Time) ([]persistence.OverdueTask, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT workflow_id, account_id, task_id, task_number, due_date
		FROM task_deadlines
		WHERE due_date < $1
		ORDER BY due_date`, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("list overdue tasks: %w", err)
	}
	defer rows.Close()

	var out []persistence.OverdueTask

	for rows.Next() {
		var task persistence.OverdueTask
		if err := rows.Scan(&task.WorkflowID, &task.AccountID, &task.TaskID, &task.TaskNumber, &task.DueDate); err != nil {
			return nil, fmt.Errorf("scan overdue task row: %w", err)
		}

		out = append(out, task)
	}

	return out, rows.Err()
}

func (r *workflowRepo) CountRunningSubWorkflows(ctx context.Context, taskID string) (int, error) {
	var count int

	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM workflows
		WHERE ancestor_task_id = $1 AND deleted_at IS NULL AND status IN ($2, $3)`,
		taskID, string(models.WorkflowStatusRunning), string(models.WorkflowStatusDelayed)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count running sub-workflows: %w", err)
	}

	return count, nil
}

type templateRepo Store

func (r *templateRepo) GetByID(ctx context.Context, id string) (*models.Template, error) {
	var data []byte

	err := r.db.QueryRowContext(ctx,
		`SELECT data FROM templates WHERE id = $1 AND deleted_at IS NULL`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrTemplateNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("get template %s: %w", id, err)
	}

	var template models.Template
	if err := json.Unmarshal(data, &template); err != nil {
		return nil, fmt.Errorf("unmarshal template %s: %w", id, err)
	}

	return &template, nil
}

func (r *templateRepo) Save(ctx context.Context, template *models.Template) error {
	data, err := json.Marshal(template)
	if err != nil {
		return fmt.Errorf("marshal template %s: %w", template.ID, err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO templates (id, account_id, deleted_at, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			deleted_at = EXCLUDED.deleted_at,
			data = EXCLUDED.data,
			updated_at = EXCLUDED.updated_at`,
		template.ID, template.AccountID, nullTime(template.DeletedAt), string(data),
		template.CreatedAt.UTC(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save template %s: %w", template.ID, err)
	}

	return nil
}

type outboxRepo Store

func (r *outboxRepo) ListUnpublished(ctx context.Context, limit int) ([]outbox.Message, error) {
	query := `
		SELECT id, key, event_type, payload, created_at
		FROM outbox_messages
		WHERE published_at IS NULL
		ORDER BY created_at, id`

	var (
		rows *sql.Rows
		err  error
	)

	if limit > 0 {
		rows, err = r.db.QueryContext(ctx, query+` LIMIT $1`, limit)
	} else {
		rows, err = r.db.QueryContext(ctx, query)
	}

	if err != nil {
		return nil, fmt.Errorf("list unpublished outbox messages: %w", err)
	}
	defer rows.Close()

	var out []outbox.Message

	for rows.Next() {
		var (
			m         outbox.Message
			eventType string
			payload   []byte
		)

		if err := rows.Scan(&m.ID, &m.Key, &eventType, &payload, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}

		m.EventType = events.EventType(eventType)
		m.Payload = payload
		out = append(out, m)
	}

	return out, rows.Err()
}

func (r *outboxRepo) MarkPublished(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("mark outbox messages published: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, id := range ids {
		_, err = tx.ExecContext(ctx, `
			UPDATE outbox_messages SET published_at = $2
			WHERE id = $1 AND published_at IS NULL`, id, at.UTC())
		if err != nil {
			return fmt.Errorf("mark outbox message %s published: %w", id, err)
		}
	}

	return tx.Commit()
}

type eventLogRepo Store

func (r *eventLogRepo) ListByWorkflow(ctx context.Context, workflowID string, limit int) ([]persistence.EventLogEntry, error) {
	query := `
		SELECT id, event_type, account_id, workflow_id, task_id, user_id, payload, created_at
		FROM event_log
		WHERE workflow_id = $1
		ORDER BY created_at, id`

	var (
		rows *sql.Rows
		err  error
	)

	if limit > 0 {
		rows, err = r.db.QueryContext(ctx, query+` LIMIT $2`, workflowID, limit)
	} else {
		rows, err = r.db.QueryContext(ctx, query, workflowID)
	}

	if err != nil {
		return nil, fmt.Errorf("list event log for workflow %s: %w", workflowID, err)
	}
	defer rows.Close()

	var out []persistence.EventLogEntry

	for rows.Next() {
		var (
			e       persistence.EventLogEntry
			taskID  sql.NullString
			userID  sql.NullString
			payload []byte
		)

		if err := rows.Scan(&e.ID, &e.Type, &e.AccountID, &e.WorkflowID, &taskID, &userID, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event log row: %w", err)
		}

		e.TaskID = taskID.String
		e.UserID = userID.String
		e.Payload = payload
		out = append(out, e)
	}

	return out, rows.Err()
}
