// Package postgres provides a PostgreSQL-backed implementation of
// [analysis.Store].
//
// Samples and final scores are stored as JSONB payloads beside the columns
// the queries filter on, so the envelope can grow fields without schema
// churn. Job roles are plain columns.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.PersistSample(ctx, sample)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlSamples = `
CREATE TABLE IF NOT EXISTS analysis_samples (
    id          BIGSERIAL    PRIMARY KEY,
    session_id  TEXT         NOT NULL,
    ts          TIMESTAMPTZ  NOT NULL,
    payload     JSONB        NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_analysis_samples_session_ts
    ON analysis_samples (session_id, ts);
`

const ddlFinalScores = `
CREATE TABLE IF NOT EXISTS final_scores (
    session_id  TEXT         PRIMARY KEY,
    payload     JSONB        NOT NULL,
    computed_at TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

const ddlJobRoles = `
CREATE TABLE IF NOT EXISTS job_roles (
    job_role_id  TEXT              PRIMARY KEY,
    name         TEXT              NOT NULL DEFAULT '',
    voice_weight DOUBLE PRECISION  NOT NULL,
    hand_weight  DOUBLE PRECISION  NOT NULL,
    eye_weight   DOUBLE PRECISION  NOT NULL
);
`

// Migrate creates or ensures all required tables exist. It is idempotent and
// safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	statements := []string{
		ddlSamples,
		ddlFinalScores,
		ddlJobRoles,
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
