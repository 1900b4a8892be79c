package sqlite

// migrations returns the versioned schema scripts, the SQLite rendition of
// the postgresql schema. Timestamps are stored as text and compare correctly
// because every value is written in UTC.
func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS workflows (
				id TEXT PRIMARY KEY,
				account_id TEXT NOT NULL,
				template_id TEXT NOT NULL,
				status TEXT NOT NULL CHECK (status IN ('running', 'delayed', 'done', 'terminated')),
				ancestor_task_id TEXT,
				delay_resume_at TIMESTAMP,
				deleted_at TIMESTAMP,
				data TEXT NOT NULL,
				created_at TIMESTAMP NOT NULL,
				updated_at TIMESTAMP NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_workflows_account_id ON workflows(account_id);
			CREATE INDEX IF NOT EXISTS idx_workflows_ancestor_task_id ON workflows(ancestor_task_id) WHERE ancestor_task_id IS NOT NULL;
			CREATE INDEX IF NOT EXISTS idx_workflows_delay_resume_at ON workflows(delay_resume_at) WHERE status = 'delayed' AND deleted_at IS NULL;

			CREATE TABLE IF NOT EXISTS task_deadlines (
				task_id TEXT PRIMARY KEY,
				workflow_id TEXT NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
				account_id TEXT NOT NULL,
				task_number INTEGER NOT NULL,
				due_date TIMESTAMP NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_task_deadlines_due_date ON task_deadlines(due_date);

			CREATE TABLE IF NOT EXISTS templates (
				id TEXT PRIMARY KEY,
				account_id TEXT NOT NULL,
				deleted_at TIMESTAMP,
				data TEXT NOT NULL,
				created_at TIMESTAMP NOT NULL,
				updated_at TIMESTAMP NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_templates_account_id ON templates(account_id);

			CREATE TABLE IF NOT EXISTS outbox_messages (
				id TEXT PRIMARY KEY,
				key TEXT NOT NULL,
				event_type TEXT NOT NULL,
				payload TEXT NOT NULL,
				created_at TIMESTAMP NOT NULL,
				published_at TIMESTAMP
			);

			CREATE INDEX IF NOT EXISTS idx_outbox_unpublished ON outbox_messages(created_at) WHERE published_at IS NULL;

			CREATE TABLE IF NOT EXISTS event_log (
				id TEXT PRIMARY KEY,
				event_type TEXT NOT NULL,
				account_id TEXT NOT NULL,
				workflow_id TEXT NOT NULL,
				task_id TEXT,
				user_id TEXT,
				payload TEXT,
				created_at TIMESTAMP NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_event_log_workflow_id ON event_log(workflow_id, created_at);
		`,
	}
}
