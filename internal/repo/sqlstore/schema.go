package sqlstore

import (
	"context"
	"fmt"
)

// Evidence and audit rows are guarded by triggers so even a direct SQL client cannot rewrite them.
var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS scopes (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		definition JSONB NOT NULL,
		status TEXT NOT NULL,
		version INTEGER NOT NULL,
		locked_at TIMESTAMPTZ,
		locked_by TEXT,
		lock_signature TEXT,
		created_by TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		scope_id TEXT NOT NULL REFERENCES scopes(id),
		status TEXT NOT NULL,
		iteration INTEGER NOT NULL DEFAULT 0,
		policy_version TEXT NOT NULL,
		created_by TEXT NOT NULL,
		abort_reason TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		started_at TIMESTAMPTZ,
		completed_at TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS action_specs (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL REFERENCES runs(id),
		tool TEXT NOT NULL,
		arguments JSONB NOT NULL,
		target TEXT NOT NULL,
		justification TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		risk_score DOUBLE PRECISION NOT NULL,
		tier TEXT NOT NULL,
		manual_only BOOLEAN NOT NULL,
		required_approvals INTEGER NOT NULL,
		status TEXT NOT NULL,
		rejection_code TEXT,
		rejection_reason TEXT,
		token TEXT,
		token_expires_at TIMESTAMPTZ,
		claimed_by TEXT,
		proposed_by TEXT NOT NULL,
		policy_version TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS action_specs_rate_idx ON action_specs (run_id, tool, target, created_at)`,
	`CREATE INDEX IF NOT EXISTS action_specs_status_idx ON action_specs (status, created_at)`,
	`ALTER TABLE action_specs ADD COLUMN IF NOT EXISTS claimed_by TEXT`,
	`CREATE TABLE IF NOT EXISTS approvals (
		id TEXT PRIMARY KEY,
		action_id TEXT NOT NULL REFERENCES action_specs(id),
		run_id TEXT NOT NULL,
		approved_by TEXT NOT NULL,
		decision TEXT NOT NULL,
		reason TEXT,
		signature TEXT NOT NULL,
		policy_version TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		UNIQUE (action_id, approved_by)
	)`,
	`CREATE TABLE IF NOT EXISTS evidence (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL REFERENCES runs(id),
		action_id TEXT UNIQUE REFERENCES action_specs(id),
		evidence_type TEXT NOT NULL,
		artifact_uri TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		size_bytes BIGINT NOT NULL,
		generated_by TEXT NOT NULL,
		metadata JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS evidence_run_idx ON evidence (run_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS audit_log (
		id BIGSERIAL PRIMARY KEY,
		run_id TEXT,
		actor TEXT NOT NULL,
		event_type TEXT NOT NULL,
		resource_type TEXT,
		resource_id TEXT,
		request_id TEXT,
		ip TEXT,
		user_agent TEXT,
		details JSONB NOT NULL,
		integrity_sha256 TEXT NOT NULL,
		occurred_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS audit_log_run_idx ON audit_log (run_id, id)`,
	`CREATE TABLE IF NOT EXISTS manual_tasks (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL REFERENCES runs(id),
		action_id TEXT NOT NULL UNIQUE REFERENCES action_specs(id),
		tool TEXT NOT NULL,
		target TEXT NOT NULL,
		procedure_text TEXT NOT NULL,
		status TEXT NOT NULL,
		assigned_to TEXT,
		completed_by TEXT,
		notes TEXT,
		evidence_id TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		completed_at TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS findings (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL REFERENCES runs(id),
		project_id TEXT NOT NULL,
		scope_id TEXT NOT NULL,
		title TEXT NOT NULL,
		severity TEXT NOT NULL,
		category TEXT NOT NULL,
		affected_target TEXT NOT NULL,
		description_md TEXT NOT NULL,
		reproducibility_md TEXT,
		evidence_ids JSONB NOT NULL,
		status TEXT NOT NULL,
		created_by TEXT NOT NULL,
		reviewed_by TEXT,
		review_reason TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS findings_run_idx ON findings (run_id, created_at)`,
	`CREATE OR REPLACE FUNCTION sf_forbid_mutation() RETURNS trigger AS $$
	BEGIN
		RAISE EXCEPTION '% is append-only', TG_TABLE_NAME;
	END;
	$$ LANGUAGE plpgsql`,
	`DROP TRIGGER IF EXISTS evidence_append_only ON evidence`,
	`CREATE TRIGGER evidence_append_only BEFORE UPDATE OR DELETE ON evidence
		FOR EACH ROW EXECUTE FUNCTION sf_forbid_mutation()`,
	`DROP TRIGGER IF EXISTS audit_log_append_only ON audit_log`,
	`CREATE TRIGGER audit_log_append_only BEFORE UPDATE OR DELETE ON audit_log
		FOR EACH ROW EXECUTE FUNCTION sf_forbid_mutation()`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS scopes (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		definition TEXT NOT NULL,
		status TEXT NOT NULL,
		version INTEGER NOT NULL,
		locked_at DATETIME,
		locked_by TEXT,
		lock_signature TEXT,
		created_by TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		scope_id TEXT NOT NULL REFERENCES scopes(id),
		status TEXT NOT NULL,
		iteration INTEGER NOT NULL DEFAULT 0,
		policy_version TEXT NOT NULL,
		created_by TEXT NOT NULL,
		abort_reason TEXT,
		created_at DATETIME NOT NULL,
		started_at DATETIME,
		completed_at DATETIME
	)`,
	`CREATE TABLE IF NOT EXISTS action_specs (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL REFERENCES runs(id),
		tool TEXT NOT NULL,
		arguments TEXT NOT NULL,
		target TEXT NOT NULL,
		justification TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		risk_score REAL NOT NULL,
		tier TEXT NOT NULL,
		manual_only BOOLEAN NOT NULL,
		required_approvals INTEGER NOT NULL,
		status TEXT NOT NULL,
		rejection_code TEXT,
		rejection_reason TEXT,
		token TEXT,
		token_expires_at DATETIME,
		claimed_by TEXT,
		proposed_by TEXT NOT NULL,
		policy_version TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS action_specs_rate_idx ON action_specs (run_id, tool, target, created_at)`,
	`CREATE INDEX IF NOT EXISTS action_specs_status_idx ON action_specs (status, created_at)`,
	`CREATE TABLE IF NOT EXISTS approvals (
		id TEXT PRIMARY KEY,
		action_id TEXT NOT NULL REFERENCES action_specs(id),
		run_id TEXT NOT NULL,
		approved_by TEXT NOT NULL,
		decision TEXT NOT NULL,
		reason TEXT,
		signature TEXT NOT NULL,
		policy_version TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		UNIQUE (action_id, approved_by)
	)`,
	`CREATE TABLE IF NOT EXISTS evidence (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL REFERENCES runs(id),
		action_id TEXT UNIQUE REFERENCES action_specs(id),
		evidence_type TEXT NOT NULL,
		artifact_uri TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		size_bytes INTEGER NOT NULL,
		generated_by TEXT NOT NULL,
		metadata TEXT NOT NULL,
		created_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS evidence_run_idx ON evidence (run_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS audit_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT,
		actor TEXT NOT NULL,
		event_type TEXT NOT NULL,
		resource_type TEXT,
		resource_id TEXT,
		request_id TEXT,
		ip TEXT,
		user_agent TEXT,
		details TEXT NOT NULL,
		integrity_sha256 TEXT NOT NULL,
		occurred_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS audit_log_run_idx ON audit_log (run_id, id)`,
	`CREATE TABLE IF NOT EXISTS manual_tasks (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL REFERENCES runs(id),
		action_id TEXT NOT NULL UNIQUE REFERENCES action_specs(id),
		tool TEXT NOT NULL,
		target TEXT NOT NULL,
		procedure_text TEXT NOT NULL,
		status TEXT NOT NULL,
		assigned_to TEXT,
		completed_by TEXT,
		notes TEXT,
		evidence_id TEXT,
		created_at DATETIME NOT NULL,
		completed_at DATETIME
	)`,
	`CREATE TABLE IF NOT EXISTS findings (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL REFERENCES runs(id),
		project_id TEXT NOT NULL,
		scope_id TEXT NOT NULL,
		title TEXT NOT NULL,
		severity TEXT NOT NULL,
		category TEXT NOT NULL,
		affected_target TEXT NOT NULL,
		description_md TEXT NOT NULL,
		reproducibility_md TEXT,
		evidence_ids TEXT NOT NULL,
		status TEXT NOT NULL,
		created_by TEXT NOT NULL,
		reviewed_by TEXT,
		review_reason TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS findings_run_idx ON findings (run_id, created_at)`,
	`CREATE TRIGGER IF NOT EXISTS evidence_no_update BEFORE UPDATE ON evidence
		BEGIN SELECT RAISE(ABORT, 'evidence is append-only'); END`,
	`CREATE TRIGGER IF NOT EXISTS evidence_no_delete BEFORE DELETE ON evidence
		BEGIN SELECT RAISE(ABORT, 'evidence is append-only'); END`,
	`CREATE TRIGGER IF NOT EXISTS audit_log_no_update BEFORE UPDATE ON audit_log
		BEGIN SELECT RAISE(ABORT, 'audit_log is append-only'); END`,
	`CREATE TRIGGER IF NOT EXISTS audit_log_no_delete BEFORE DELETE ON audit_log
		BEGIN SELECT RAISE(ABORT, 'audit_log is append-only'); END`,
}

func (d Dialect) schema() []string {
	if d == DialectSQLite {
		return sqliteSchema
	}
	return postgresSchema
}

// Migrate applies the schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("store not initialized")
	}
	for i, stmt := range s.dialect.schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate statement %d: %w", i+1, err)
		}
	}
	return nil
}
