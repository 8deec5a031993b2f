package analysis

import (
	"context"
	"errors"
)

// Sentinel errors returned by [Store] implementations.
var (
	// ErrFinalScoreNotFound means no final score has been computed for the
	// session yet.
	ErrFinalScoreNotFound = errors.New("final score not found")

	// ErrJobRoleNotFound means the job role id resolves to nothing; callers
	// fall back to [DefaultWeights].
	ErrJobRoleNotFound = errors.New("job role not found")

	// ErrNoSamples means a session has no persisted samples to aggregate.
	ErrNoSamples = errors.New("no samples for session")
)

// Store persists samples, final scores and job roles.
type Store interface {
	// PersistSample appends one sample to the session's history.
	PersistSample(ctx context.Context, sample Sample) error

	// ListSamples returns all samples of a session ordered by timestamp
	// ascending. A session without samples yields an empty slice, not an
	// error.
	ListSamples(ctx context.Context, sessionID string) ([]Sample, error)

	// PersistFinalScore stores the final score, replacing any previous one
	// for the same session.
	PersistFinalScore(ctx context.Context, score FinalScore) error

	// GetFinalScore returns the stored final score or
	// [ErrFinalScoreNotFound].
	GetFinalScore(ctx context.Context, sessionID string) (FinalScore, error)

	// GetJobRole returns the role's weights or [ErrJobRoleNotFound].
	GetJobRole(ctx context.Context, jobRoleID string) (JobRole, error)
}

// EventBus fans emitted events out to connected clients. Broadcast must not
// block on slow consumers; a failed broadcast is reported but never fails the
// emitting pipeline.
type EventBus interface {
	Broadcast(ctx context.Context, sessionID, event string, payload any) error
}
