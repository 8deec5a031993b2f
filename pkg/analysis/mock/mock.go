// Package mock provides in-memory implementations of [analysis.Store] and
// [analysis.EventBus] for tests. Both record every call and are safe for
// concurrent use. Setting an Err field makes the corresponding methods fail.
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/mkessel/candor/pkg/analysis"
)

var (
	_ analysis.Store    = (*Store)(nil)
	_ analysis.EventBus = (*EventBus)(nil)
)

// Store is an in-memory [analysis.Store].
type Store struct {
	mu          sync.Mutex
	samples     map[string][]analysis.Sample
	finalScores map[string]analysis.FinalScore
	jobRoles    map[string]analysis.JobRole

	// Err, when set, is returned by every method.
	Err error
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		samples:     make(map[string][]analysis.Sample),
		finalScores: make(map[string]analysis.FinalScore),
		jobRoles:    make(map[string]analysis.JobRole),
	}
}

// SeedJobRole registers a role for [Store.GetJobRole] lookups.
func (s *Store) SeedJobRole(role analysis.JobRole) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobRoles[role.JobRoleID] = role
}

func (s *Store) PersistSample(_ context.Context, sample analysis.Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.samples[sample.SessionID] = append(s.samples[sample.SessionID], sample)
	return nil
}

func (s *Store) ListSamples(_ context.Context, sessionID string) ([]analysis.Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	out := slices.Clone(s.samples[sessionID])
	slices.SortStableFunc(out, func(a, b analysis.Sample) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	return out, nil
}

func (s *Store) PersistFinalScore(_ context.Context, score analysis.FinalScore) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.finalScores[score.SessionID] = score
	return nil
}

func (s *Store) GetFinalScore(_ context.Context, sessionID string) (analysis.FinalScore, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return analysis.FinalScore{}, s.Err
	}
	score, ok := s.finalScores[sessionID]
	if !ok {
		return analysis.FinalScore{}, analysis.ErrFinalScoreNotFound
	}
	return score, nil
}

func (s *Store) GetJobRole(_ context.Context, jobRoleID string) (analysis.JobRole, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return analysis.JobRole{}, s.Err
	}
	role, ok := s.jobRoles[jobRoleID]
	if !ok {
		return analysis.JobRole{}, analysis.ErrJobRoleNotFound
	}
	return role, nil
}

// Samples returns a copy of the persisted samples of a session in insertion
// order.
func (s *Store) Samples(sessionID string) []analysis.Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.samples[sessionID])
}

// FinalScore returns the stored score and whether one exists.
func (s *Store) FinalScore(sessionID string) (analysis.FinalScore, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	score, ok := s.finalScores[sessionID]
	return score, ok
}

// Broadcast is one recorded [EventBus.Broadcast] call.
type Broadcast struct {
	SessionID string
	Event     string
	Payload   any
}

// EventBus is an in-memory [analysis.EventBus].
type EventBus struct {
	mu    sync.Mutex
	calls []Broadcast

	// Err, when set, is returned by Broadcast after recording the call.
	Err error
}

func (b *EventBus) Broadcast(_ context.Context, sessionID, event string, payload any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, Broadcast{SessionID: sessionID, Event: event, Payload: payload})
	return b.Err
}

// Broadcasts returns a copy of the recorded calls.
func (b *EventBus) Broadcasts() []Broadcast {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.calls)
}
