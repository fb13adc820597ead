package sqlite

// Schema defines the SQLite database schema
const Schema = `
-- SLO definitions table
CREATE TABLE IF NOT EXISTS slo_definitions (
	operation TEXT PRIMARY KEY,
	display_name TEXT NOT NULL,
	p50_target REAL NOT NULL,
	p95_target REAL NOT NULL,
	p99_target REAL NOT NULL,
	error_rate_target REAL NOT NULL,
	key_operation BOOLEAN NOT NULL DEFAULT 0,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

-- Telemetry documents (metrics and violations)
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	collection TEXT NOT NULL,
	fields_json TEXT NOT NULL,
	ts_ms INTEGER NOT NULL,
	created_ms INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_collection_ts ON documents(collection, ts_ms DESC);
`
