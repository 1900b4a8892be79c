package postgresql

// migrations returns the versioned schema scripts. The aggregate lives in the
// data column; the remaining columns only serve scoping and scan queries and
// are rewritten from the aggregate on every save.
func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS workflows (
				id VARCHAR(255) PRIMARY KEY,
				account_id VARCHAR(255) NOT NULL,
				template_id VARCHAR(255) NOT NULL,
				status VARCHAR(50) NOT NULL CHECK (status IN ('running', 'delayed', 'done', 'terminated')),
				ancestor_task_id VARCHAR(255),
				delay_resume_at TIMESTAMP WITH TIME ZONE,
				deleted_at TIMESTAMP WITH TIME ZONE,
				data JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_workflows_account_id ON workflows(account_id);
			CREATE INDEX IF NOT EXISTS idx_workflows_ancestor_task_id ON workflows(ancestor_task_id) WHERE ancestor_task_id IS NOT NULL;
			CREATE INDEX IF NOT EXISTS idx_workflows_delay_resume_at ON workflows(delay_resume_at) WHERE status = 'delayed' AND deleted_at IS NULL;

			CREATE TABLE IF NOT EXISTS task_deadlines (
				task_id VARCHAR(255) PRIMARY KEY,
				workflow_id VARCHAR(255) NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
				account_id VARCHAR(255) NOT NULL,
				task_number INTEGER NOT NULL,
				due_date TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_task_deadlines_due_date ON task_deadlines(due_date);

			CREATE TABLE IF NOT EXISTS templates (
				id VARCHAR(255) PRIMARY KEY,
				account_id VARCHAR(255) NOT NULL,
				deleted_at TIMESTAMP WITH TIME ZONE,
				data JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_templates_account_id ON templates(account_id);

			CREATE TABLE IF NOT EXISTS outbox_messages (
				id VARCHAR(255) PRIMARY KEY,
				key VARCHAR(255) NOT NULL,
				event_type VARCHAR(100) NOT NULL,
				payload JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				published_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX IF NOT EXISTS idx_outbox_unpublished ON outbox_messages(created_at) WHERE published_at IS NULL;

			CREATE TABLE IF NOT EXISTS event_log (
				id VARCHAR(255) PRIMARY KEY,
				event_type VARCHAR(100) NOT NULL,
				account_id VARCHAR(255) NOT NULL,
				workflow_id VARCHAR(255) NOT NULL,
				task_id VARCHAR(255),
				user_id VARCHAR(255),
				payload JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_event_log_workflow_id ON event_log(workflow_id, created_at);
		`,
	}
}
