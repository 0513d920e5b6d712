package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaRules = `
CREATE TABLE IF NOT EXISTS rules (
    id TEXT NOT NULL,
    principal_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    enabled INTEGER NOT NULL DEFAULT 1,
    score INTEGER NOT NULL,
    type TEXT NOT NULL,
    config TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, principal_id)
);

CREATE INDEX IF NOT EXISTS idx_rules_principal ON rules(principal_id);
CREATE INDEX IF NOT EXISTS idx_rules_enabled ON rules(principal_id, enabled);
`

const schemaEvaluations = `
CREATE TABLE IF NOT EXISTS evaluations (
    transaction_id TEXT NOT NULL,
    principal_id TEXT NOT NULL,
    amount REAL NOT NULL,
    type TEXT NOT NULL,
    location TEXT NOT NULL,
    device_id TEXT,
    fraud_score INTEGER NOT NULL,
    is_fraudulent INTEGER NOT NULL,
    rules_triggered TEXT NOT NULL,
    status TEXT NOT NULL,
    raw_data TEXT,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (transaction_id, principal_id)
);

CREATE INDEX IF NOT EXISTS idx_evaluations_principal ON evaluations(principal_id);
CREATE INDEX IF NOT EXISTS idx_evaluations_status ON evaluations(principal_id, is_fraudulent);
CREATE INDEX IF NOT EXISTS idx_evaluations_created ON evaluations(principal_id, created_at);
CREATE INDEX IF NOT EXISTS idx_evaluations_location ON evaluations(principal_id, location);
CREATE INDEX IF NOT EXISTS idx_evaluations_type ON evaluations(principal_id, type);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaRules,
		schemaEvaluations,
	}
}
