package store

import "context"

// Schema notes: ids are uuid strings, timestamps are millisecond epochs
// stored as INTEGER, tri-state flags are nullable INTEGER (NULL = inherit),
// and list/map fields are JSON TEXT. The column types below are accepted by
// both sqlite and postgres.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS swim_lanes (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		runtime_id TEXT NOT NULL,
		working_dir TEXT NOT NULL DEFAULT '',
		session_name TEXT NOT NULL DEFAULT '',
		session_active INTEGER NOT NULL DEFAULT 0,
		context_instructions TEXT NOT NULL DEFAULT '',
		ai_provider TEXT NOT NULL DEFAULT '',
		model TEXT NOT NULL DEFAULT '',
		memory_file_id TEXT NOT NULL DEFAULT '',
		auto_start INTEGER,
		auto_pilot INTEGER,
		auto_close INTEGER,
		use_worktree INTEGER,
		created_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		swim_lane_id TEXT,
		description TEXT NOT NULL,
		details TEXT NOT NULL DEFAULT '',
		target_role TEXT NOT NULL DEFAULT '',
		priority INTEGER NOT NULL DEFAULT 5,
		status TEXT NOT NULL,
		kanban_column TEXT NOT NULL,
		auto_start INTEGER,
		auto_pilot INTEGER,
		auto_close INTEGER,
		use_worktree INTEGER,
		ai_provider TEXT NOT NULL DEFAULT '',
		ai_model TEXT NOT NULL DEFAULT '',
		depends_on TEXT NOT NULL DEFAULT '[]',
		parent_task_id TEXT NOT NULL DEFAULT '',
		subtask_ids TEXT NOT NULL DEFAULT '[]',
		assigned_agent_id TEXT NOT NULL DEFAULT '',
		pipeline_stage_id TEXT NOT NULL DEFAULT '',
		worktree_path TEXT NOT NULL DEFAULT '',
		signal_id TEXT NOT NULL DEFAULT '',
		output TEXT NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT '',
		verification_status TEXT NOT NULL DEFAULT 'none',
		tmux_session_name TEXT NOT NULL DEFAULT '',
		tmux_window_index INTEGER,
		tmux_pane_index INTEGER,
		tmux_runtime_id TEXT NOT NULL DEFAULT '',
		done_at BIGINT,
		created_at BIGINT NOT NULL,
		started_at BIGINT,
		completed_at BIGINT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_lane ON tasks(swim_lane_id)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_column ON tasks(kanban_column)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_stage ON tasks(pipeline_stage_id)`,
	`CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		role TEXT NOT NULL,
		provider TEXT NOT NULL,
		model TEXT NOT NULL DEFAULT '',
		runtime_id TEXT NOT NULL,
		session_name TEXT NOT NULL,
		window_index INTEGER NOT NULL,
		pane_index INTEGER NOT NULL,
		state TEXT NOT NULL,
		team_id TEXT NOT NULL DEFAULT '',
		current_task_id TEXT NOT NULL DEFAULT '',
		expertise TEXT NOT NULL DEFAULT '[]',
		error_message TEXT NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL,
		last_activity_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_agents_binding ON agents(runtime_id, session_name, window_index, pane_index)`,
	`CREATE TABLE IF NOT EXISTS teams (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		agent_ids TEXT NOT NULL DEFAULT '[]',
		pipeline_id TEXT NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS pipelines (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		stages TEXT NOT NULL DEFAULT '[]',
		built_in INTEGER NOT NULL DEFAULT 0,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS pipeline_runs (
		id TEXT PRIMARY KEY,
		pipeline_id TEXT NOT NULL,
		status TEXT NOT NULL,
		stage_results TEXT NOT NULL DEFAULT '{}',
		started_at BIGINT NOT NULL,
		completed_at BIGINT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_runs_pipeline ON pipeline_runs(pipeline_id)`,
	`CREATE TABLE IF NOT EXISTS templates (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL,
		built_in INTEGER NOT NULL DEFAULT 0,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS favorites (
		id TEXT PRIMARY KEY,
		label TEXT NOT NULL,
		kind TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS agent_messages (
		id TEXT PRIMARY KEY,
		from_agent TEXT NOT NULL,
		to_agent TEXT NOT NULL,
		content TEXT NOT NULL,
		ts BIGINT NOT NULL,
		read INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_to ON agent_messages(to_agent, read)`,
}

func (s *Store) initSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.pool.Writer().ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
