package repository

import (
	"context"

	"github.com/intakehq/docpipe/internal/common"
)

// Schema is kept in the portable subset both sqlite and postgres accept:
// TEXT ids, BIGINT unix-nano timestamps, JSON payloads stored as TEXT.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS jobs (
		id                 TEXT PRIMARY KEY,
		user_id            TEXT NOT NULL,
		client_request_id  TEXT NOT NULL,
		schema_id          TEXT NOT NULL,
		schema_version     INTEGER NOT NULL,
		blob_id            TEXT NOT NULL,
		state              TEXT NOT NULL,
		retries            INTEGER NOT NULL DEFAULT 0,
		error_code         TEXT NOT NULL DEFAULT '',
		external_job_id    TEXT NOT NULL DEFAULT '',
		next_visible_at    BIGINT,
		ocr_artifact_id    TEXT NOT NULL DEFAULT '',
		schema_artifact_id TEXT NOT NULL DEFAULT '',
		schema_output      TEXT NOT NULL DEFAULT '',
		confidence         TEXT NOT NULL DEFAULT '',
		quality_score      DOUBLE PRECISION NOT NULL DEFAULT 0,
		created_at         BIGINT NOT NULL,
		updated_at         BIGINT NOT NULL,
		CONSTRAINT jobs_user_request_unique UNIQUE (user_id, client_request_id)
	)`,
	`CREATE INDEX IF NOT EXISTS jobs_state_created_idx ON jobs (state, created_at)`,
	`CREATE INDEX IF NOT EXISTS jobs_state_visible_idx ON jobs (state, next_visible_at)`,
}

// Migrate applies the schema. Statements are idempotent so it is safe to run
// on every startup.
func (db *DB) Migrate(ctx context.Context) error {
	for _, stmt := range migrations {
		if _, err := db.SQL.ExecContext(ctx, stmt); err != nil {
			db.logger.Error("migration failed", "error", err)
			return common.WrapError(err, "apply migration")
		}
	}
	db.logger.Info("database schema up to date")
	return nil
}
