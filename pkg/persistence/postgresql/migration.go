package postgresql

// migrations returns the versioned schema for the engine. JSONB columns
// hold the trigger, definition and result blobs so arbitrary nested
// objects round-trip unchanged.
func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS workflows (
				id UUID PRIMARY KEY,
				user_id TEXT NOT NULL,
				name TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				version INTEGER NOT NULL DEFAULT 1,
				trigger_config JSONB NOT NULL,
				workflow_definition JSONB NOT NULL,
				execution_config JSONB NOT NULL,
				total_executions BIGINT NOT NULL DEFAULT 0,
				successful_executions BIGINT NOT NULL DEFAULT 0,
				failed_executions BIGINT NOT NULL DEFAULT 0,
				last_execution_at TIMESTAMP WITH TIME ZONE,
				is_active BOOLEAN NOT NULL DEFAULT TRUE,
				is_template BOOLEAN NOT NULL DEFAULT FALSE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				deleted_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX IF NOT EXISTS idx_workflows_user_id
				ON workflows (user_id) WHERE deleted_at IS NULL;
			CREATE INDEX IF NOT EXISTS idx_workflows_scheduled
				ON workflows ((trigger_config->>'type'))
				WHERE deleted_at IS NULL AND is_active;

			CREATE TABLE IF NOT EXISTS workflow_executions (
				id UUID PRIMARY KEY,
				execution_id TEXT NOT NULL UNIQUE,
				workflow_id UUID NOT NULL,
				user_id TEXT NOT NULL,
				status TEXT NOT NULL,
				trigger_type TEXT NOT NULL,
				trigger_data JSONB,
				started_at TIMESTAMP WITH TIME ZONE,
				completed_at TIMESTAMP WITH TIME ZONE,
				timeout_at TIMESTAMP WITH TIME ZONE NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				total_nodes INTEGER NOT NULL DEFAULT 0,
				completed_nodes INTEGER NOT NULL DEFAULT 0,
				failed_nodes INTEGER NOT NULL DEFAULT 0,
				execution_results JSONB,
				output_data JSONB,
				error_details JSONB,
				execution_duration_ms BIGINT NOT NULL DEFAULT 0
			);

			CREATE INDEX IF NOT EXISTS idx_executions_workflow_status
				ON workflow_executions (workflow_id, status);
			CREATE INDEX IF NOT EXISTS idx_executions_timeout
				ON workflow_executions (timeout_at) WHERE status = 'running';

			CREATE TABLE IF NOT EXISTS workflow_node_executions (
				id UUID PRIMARY KEY,
				execution_id TEXT NOT NULL,
				node_id TEXT NOT NULL,
				node_type TEXT NOT NULL,
				status TEXT NOT NULL,
				input_data JSONB,
				output_data JSONB,
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE,
				execution_duration_ms BIGINT NOT NULL DEFAULT 0,
				error_message TEXT NOT NULL DEFAULT ''
			);

			CREATE INDEX IF NOT EXISTS idx_node_executions_execution
				ON workflow_node_executions (execution_id, started_at);
		`,
	}
}
