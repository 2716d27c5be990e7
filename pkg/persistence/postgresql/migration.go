package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workflows (
				id VARCHAR(255) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				user_id VARCHAR(255) NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflows_user_id ON workflows(user_id);

			CREATE TABLE workflow_nodes (
				workflow_id VARCHAR(255) NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
				id VARCHAR(255) NOT NULL,
				node_type VARCHAR(64) NOT NULL,
				name VARCHAR(255) NOT NULL DEFAULT '',
				data JSONB NOT NULL DEFAULT '{}',
				position INT NOT NULL,
				PRIMARY KEY (workflow_id, id)
			);

			CREATE INDEX idx_workflow_nodes_type ON workflow_nodes(node_type);

			CREATE TABLE workflow_connections (
				workflow_id VARCHAR(255) NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
				id VARCHAR(255) NOT NULL,
				from_node_id VARCHAR(255) NOT NULL,
				to_node_id VARCHAR(255) NOT NULL,
				position INT NOT NULL,
				PRIMARY KEY (workflow_id, id)
			);
		`,
		2: `
			-- output is JSON, not JSONB, so the shared context keeps its key order
			CREATE TABLE executions (
				id VARCHAR(255) PRIMARY KEY,
				workflow_id VARCHAR(255) NOT NULL,
				status VARCHAR(16) NOT NULL CHECK (status IN ('RUNNING', 'SUCCESS', 'FAILED')),
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE,
				output JSON,
				error TEXT,
				error_stack TEXT,
				event_id VARCHAR(255) UNIQUE
			);

			CREATE INDEX idx_executions_workflow_status ON executions(workflow_id, status, started_at DESC);
		`,
		3: `
			CREATE TABLE credentials (
				id VARCHAR(255) PRIMARY KEY,
				user_id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				type VARCHAR(64) NOT NULL,
				value TEXT NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX idx_credentials_user_id ON credentials(user_id);

			CREATE TABLE step_results (
				execution_id VARCHAR(255) NOT NULL,
				step_name VARCHAR(512) NOT NULL,
				data BYTEA NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				PRIMARY KEY (execution_id, step_name)
			);
		`,
	}
}
