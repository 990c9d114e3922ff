package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Workflow definitions with inlined trigger union and JSONB graph
			CREATE TABLE workflow_definitions (
				id VARCHAR(255) PRIMARY KEY,
				org_id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				status VARCHAR(50) NOT NULL CHECK (status IN ('draft', 'active', 'paused')),
				trigger_kind VARCHAR(50) NOT NULL CHECK (trigger_kind IN ('event', 'schedule')),
				trigger_event_type VARCHAR(255),
				trigger_cron VARCHAR(255),
				graph JSONB NOT NULL DEFAULT '{}',
				requires_approval BOOLEAN NOT NULL DEFAULT false,
				approval_status VARCHAR(50) NOT NULL DEFAULT 'draft',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				deleted_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_definitions_status ON workflow_definitions(status);
			CREATE INDEX idx_definitions_org ON workflow_definitions(org_id);
			CREATE INDEX idx_definitions_event_type ON workflow_definitions(trigger_event_type);
			CREATE INDEX idx_definitions_deleted_at ON workflow_definitions(deleted_at);

			-- Runs carry their cursor and context snapshot
			CREATE TABLE runs (
				id VARCHAR(255) PRIMARY KEY,
				definition_id VARCHAR(255) NOT NULL REFERENCES workflow_definitions(id),
				status VARCHAR(50) NOT NULL CHECK (status IN ('running', 'waiting', 'success', 'failed', 'cancelled')),
				current_node_id VARCHAR(255),
				context JSONB NOT NULL DEFAULT '{}',
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				finished_at TIMESTAMP WITH TIME ZONE,
				last_error TEXT
			);

			CREATE INDEX idx_runs_definition_id ON runs(definition_id);
			CREATE INDEX idx_runs_status ON runs(status);
			CREATE INDEX idx_runs_started_at ON runs(started_at);

			-- Pending delays: one row per suspended run, claimed by deletion
			CREATE TABLE pending_delays (
				id VARCHAR(255) PRIMARY KEY,
				run_id VARCHAR(255) NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
				node_id VARCHAR(255) NOT NULL,
				wake_at TIMESTAMP WITH TIME ZONE NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX idx_pending_delays_wake_at ON pending_delays(wake_at);
			CREATE INDEX idx_pending_delays_run_id ON pending_delays(run_id);

			-- Schedule entries: one per cron-triggered definition
			CREATE TABLE schedules (
				definition_id VARCHAR(255) PRIMARY KEY REFERENCES workflow_definitions(id) ON DELETE CASCADE,
				id VARCHAR(255) NOT NULL,
				cron_expression VARCHAR(255) NOT NULL,
				next_due_at TIMESTAMP WITH TIME ZONE NOT NULL,
				active BOOLEAN NOT NULL DEFAULT true,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_schedules_next_due_at ON schedules(next_due_at) WHERE active;

			-- Immutable approval audit log
			CREATE TABLE approval_entries (
				id VARCHAR(255) PRIMARY KEY,
				definition_id VARCHAR(255) NOT NULL REFERENCES workflow_definitions(id) ON DELETE CASCADE,
				action VARCHAR(50) NOT NULL CHECK (action IN ('requested', 'approved', 'rejected')),
				actor VARCHAR(255) NOT NULL,
				notes TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX idx_approval_entries_definition ON approval_entries(definition_id);
		`,
	}
}
