package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mkessel/candor/pkg/analysis"
)

var _ analysis.Store = (*Store)(nil)

// Store is the PostgreSQL-backed [analysis.Store]. All methods are safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore establishes a connection pool to the database at dsn, pings it and
// runs [Migrate] so all required tables exist.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close releases all connections held by the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping checks database connectivity, for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// PersistSample implements [analysis.Store].
func (s *Store) PersistSample(ctx context.Context, sample analysis.Sample) error {
	payload, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("postgres store: marshal sample: %w", err)
	}

	const q = `
		INSERT INTO analysis_samples (session_id, ts, payload)
		VALUES ($1, $2, $3)`

	if _, err := s.pool.Exec(ctx, q, sample.SessionID, sample.Timestamp, payload); err != nil {
		return fmt.Errorf("postgres store: persist sample: %w", err)
	}
	return nil
}

// ListSamples implements [analysis.Store]. Samples come back ordered by
// timestamp ascending; insertion order breaks ties.
func (s *Store) ListSamples(ctx context.Context, sessionID string) ([]analysis.Sample, error) {
	const q = `
		SELECT payload
		FROM   analysis_samples
		WHERE  session_id = $1
		ORDER  BY ts, id`

	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list samples: %w", err)
	}

	samples, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (analysis.Sample, error) {
		var payload []byte
		if err := row.Scan(&payload); err != nil {
			return analysis.Sample{}, err
		}
		var sample analysis.Sample
		if err := json.Unmarshal(payload, &sample); err != nil {
			return analysis.Sample{}, err
		}
		return sample, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: collect samples: %w", err)
	}
	return samples, nil
}

// PersistFinalScore implements [analysis.Store]. Recomputation overwrites the
// previous score for the session.
func (s *Store) PersistFinalScore(ctx context.Context, score analysis.FinalScore) error {
	payload, err := json.Marshal(score)
	if err != nil {
		return fmt.Errorf("postgres store: marshal final score: %w", err)
	}

	const q = `
		INSERT INTO final_scores (session_id, payload, computed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (session_id)
		DO UPDATE SET payload = EXCLUDED.payload, computed_at = EXCLUDED.computed_at`

	if _, err := s.pool.Exec(ctx, q, score.SessionID, payload, score.ComputedAt); err != nil {
		return fmt.Errorf("postgres store: persist final score: %w", err)
	}
	return nil
}

// GetFinalScore implements [analysis.Store].
func (s *Store) GetFinalScore(ctx context.Context, sessionID string) (analysis.FinalScore, error) {
	const q = `SELECT payload FROM final_scores WHERE session_id = $1`

	var payload []byte
	err := s.pool.QueryRow(ctx, q, sessionID).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return analysis.FinalScore{}, analysis.ErrFinalScoreNotFound
	}
	if err != nil {
		return analysis.FinalScore{}, fmt.Errorf("postgres store: get final score: %w", err)
	}

	var score analysis.FinalScore
	if err := json.Unmarshal(payload, &score); err != nil {
		return analysis.FinalScore{}, fmt.Errorf("postgres store: unmarshal final score: %w", err)
	}
	return score, nil
}

// GetJobRole implements [analysis.Store].
func (s *Store) GetJobRole(ctx context.Context, jobRoleID string) (analysis.JobRole, error) {
	const q = `
		SELECT job_role_id, name, voice_weight, hand_weight, eye_weight
		FROM   job_roles
		WHERE  job_role_id = $1`

	var role analysis.JobRole
	err := s.pool.QueryRow(ctx, q, jobRoleID).Scan(
		&role.JobRoleID,
		&role.Name,
		&role.Weights.Voice,
		&role.Weights.Hand,
		&role.Weights.Eye,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return analysis.JobRole{}, analysis.ErrJobRoleNotFound
	}
	if err != nil {
		return analysis.JobRole{}, fmt.Errorf("postgres store: get job role: %w", err)
	}
	return role, nil
}

// UpsertJobRole creates or updates a role's weights. Intended for seeding and
// administrative tooling; the engine itself only reads roles.
func (s *Store) UpsertJobRole(ctx context.Context, role analysis.JobRole) error {
	const q = `
		INSERT INTO job_roles (job_role_id, name, voice_weight, hand_weight, eye_weight)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (job_role_id)
		DO UPDATE SET
		    name = EXCLUDED.name,
		    voice_weight = EXCLUDED.voice_weight,
		    hand_weight = EXCLUDED.hand_weight,
		    eye_weight = EXCLUDED.eye_weight`

	_, err := s.pool.Exec(ctx, q,
		role.JobRoleID,
		role.Name,
		role.Weights.Voice,
		role.Weights.Hand,
		role.Weights.Eye,
	)
	if err != nil {
		return fmt.Errorf("postgres store: upsert job role: %w", err)
	}
	return nil
}
