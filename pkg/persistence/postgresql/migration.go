package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE flows (
				id VARCHAR(255) PRIMARY KEY,
				version INT NOT NULL DEFAULT 1,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				status VARCHAR(50) NOT NULL CHECK (status IN ('draft', 'active', 'archived')),
				nodes JSONB NOT NULL DEFAULT '[]',
				edges JSONB NOT NULL DEFAULT '[]',
				variables JSONB,
				metadata JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_flows_status ON flows(status);
			CREATE INDEX idx_flows_created_at ON flows(created_at);

			CREATE TABLE flow_variants (
				id VARCHAR(255) NOT NULL,
				base_flow_id VARCHAR(255) NOT NULL,
				flow_id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				traffic_percentage DOUBLE PRECISION NOT NULL,
				active BOOLEAN NOT NULL DEFAULT TRUE,
				position SERIAL,
				PRIMARY KEY (base_flow_id, id)
			);

			CREATE INDEX idx_flow_variants_base ON flow_variants(base_flow_id);

			CREATE TABLE flow_executions (
				id VARCHAR(255) PRIMARY KEY,
				flow_id VARCHAR(255) NOT NULL,
				flow_version INT NOT NULL DEFAULT 1,
				variant_id VARCHAR(255),
				input_variables JSONB,
				output_result JSONB,
				status VARCHAR(50) NOT NULL,
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				ended_at TIMESTAMP WITH TIME ZONE,
				total_cost DOUBLE PRECISION NOT NULL DEFAULT 0,
				total_tokens INT NOT NULL DEFAULT 0,
				error_message TEXT
			);

			CREATE INDEX idx_flow_executions_flow_id ON flow_executions(flow_id);
			CREATE INDEX idx_flow_executions_status ON flow_executions(status);
			CREATE INDEX idx_flow_executions_started_at ON flow_executions(started_at);

			CREATE TABLE node_executions (
				id VARCHAR(255) PRIMARY KEY,
				flow_execution_id VARCHAR(255) NOT NULL REFERENCES flow_executions(id) ON DELETE CASCADE,
				node_id VARCHAR(255) NOT NULL,
				node_key VARCHAR(255) NOT NULL,
				node_type VARCHAR(50) NOT NULL,
				status VARCHAR(50) NOT NULL,
				input JSONB,
				output JSONB,
				started_at TIMESTAMP WITH TIME ZONE,
				ended_at TIMESTAMP WITH TIME ZONE,
				execution_time_ms BIGINT NOT NULL DEFAULT 0,
				cost DOUBLE PRECISION NOT NULL DEFAULT 0,
				tokens_consumed INT NOT NULL DEFAULT 0,
				error_message TEXT,
				retry_count INT NOT NULL DEFAULT 0
			);

			CREATE INDEX idx_node_executions_execution_id ON node_executions(flow_execution_id);
			CREATE INDEX idx_node_executions_status ON node_executions(status);
			CREATE INDEX idx_node_executions_started_at ON node_executions(started_at);
		`,
	}
}
