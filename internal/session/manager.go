package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/mkessel/candor/internal/observe"
	"github.com/mkessel/candor/pkg/analysis"
	"github.com/mkessel/candor/pkg/detector"
	"github.com/mkessel/candor/pkg/media"
)

// Sentinel errors of the session registry.
var (
	// ErrAlreadyRunning means Start was called for a session_id that already
	// owns a live scheduler.
	ErrAlreadyRunning = errors.New("session already running")

	// ErrSessionNotFound means the session_id resolves to no live session.
	ErrSessionNotFound = errors.New("session not found")
)

// SessionView is the live-lookup snapshot of one running session.
type SessionView struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	JobRoleID string    `json:"job_role_id"`
	State     State     `json:"state"`
	StartedAt time.Time `json:"started_at"`

	SamplesEmitted int    `json:"samples_emitted"`
	VideoDrops     uint64 `json:"video_drops"`
	AudioDrops     uint64 `json:"audio_drops"`

	// LastSample is nil until the first composite tick.
	LastSample *analysis.Sample `json:"last_sample,omitempty"`
}

// Manager is the process-wide session registry. It owns one [Scheduler] per
// live session_id and enforces that Start never creates a second scheduler
// for a running session. All methods are safe for concurrent use.
type Manager struct {
	detectors detector.Set
	emitter   *Emitter
	agg       *Aggregator
	metrics   *observe.Metrics
	timing    Timing
	log       *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Scheduler
}

// NewManager constructs a manager. Passing a zero Timing selects
// [DefaultTiming].
func NewManager(det detector.Set, emitter *Emitter, agg *Aggregator, metrics *observe.Metrics, timing Timing, log *slog.Logger) *Manager {
	if timing == (Timing{}) {
		timing = DefaultTiming()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		detectors: det,
		emitter:   emitter,
		agg:       agg,
		metrics:   metrics,
		timing:    timing,
		log:       log,
		sessions:  make(map[string]*Scheduler),
	}
}

// Start creates and launches a scheduler for the session. Starting an
// already-running session_id returns [ErrAlreadyRunning] and never creates a
// second scheduler.
func (m *Manager) Start(ctx context.Context, id Identity) error {
	m.mu.Lock()
	if _, ok := m.sessions[id.SessionID]; ok {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}

	sched := newScheduler(id, m.timing, m.detectors, m.emitter, m.metrics, m.log)
	sched.onFatal = m.removeFatal
	m.sessions[id.SessionID] = sched
	m.mu.Unlock()

	sched.start(ctx)
	m.metrics.ActiveSessions.Add(ctx, 1)
	m.log.Info("session started",
		slog.String("session_id", id.SessionID),
		slog.String("user_id", id.UserID),
		slog.String("job_role_id", id.JobRoleID))
	return nil
}

// Stop cancels the session's scheduler, waits up to the stop timeout for its
// final flush, removes it from the registry and schedules aggregation as a
// detached task. Unknown sessions return [ErrSessionNotFound].
func (m *Manager) Stop(sessionID string) error {
	m.mu.Lock()
	sched, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return ErrSessionNotFound
	}
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	graceful := sched.stop()
	m.metrics.ActiveSessions.Add(context.Background(), -1)
	m.log.Info("session stopped",
		slog.String("session_id", sessionID),
		slog.Bool("graceful", graceful))

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := m.agg.Finalize(ctx, sched.id); err != nil {
			m.log.Error("finalize failed",
				slog.String("session_id", sessionID),
				slog.String("error", err.Error()))
		}
	}()
	return nil
}

// StopAll stops every live session. Used for graceful process shutdown; each
// session gets its own stop budget.
func (m *Manager) StopAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.Stop(id); err != nil && !errors.Is(err, ErrSessionNotFound) {
			m.log.Warn("stop on shutdown failed",
				slog.String("session_id", id),
				slog.String("error", err.Error()))
		}
	}
}

// removeFatal drops a session whose scheduler died mid-tick. The scheduler
// already broadcast its terminal update; no final flush or aggregation
// happens here — persisted samples stay aggregatable via the REST recompute
// path.
func (m *Manager) removeFatal(sessionID string) {
	m.mu.Lock()
	_, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	if ok {
		m.metrics.ActiveSessions.Add(context.Background(), -1)
		m.log.Error("session removed after fatal tick", slog.String("session_id", sessionID))
	}
}

// OfferVideo hands a frame to the session's intake. A missing session is a
// benign race with Stop on the socket path; callers decide whether to
// surface the error.
func (m *Manager) OfferVideo(sessionID string, frame media.VideoFrame) error {
	sched, ok := m.lookup(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	sched.offerVideo(frame)
	return nil
}

// OfferAudio hands an audio chunk to the session's intake.
func (m *Manager) OfferAudio(sessionID string, chunk media.AudioChunk) error {
	sched, ok := m.lookup(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	sched.offerAudio(chunk)
	return nil
}

// Active reports whether the session currently owns a live scheduler.
func (m *Manager) Active(sessionID string) bool {
	_, ok := m.lookup(sessionID)
	return ok
}

// Lookup returns the live snapshot of a session.
func (m *Manager) Lookup(sessionID string) (SessionView, bool) {
	sched, ok := m.lookup(sessionID)
	if !ok {
		return SessionView{}, false
	}

	videoDrops, audioDrops := sched.intake.Drops()

	sched.mu.Lock()
	view := SessionView{
		SessionID:      sched.id.SessionID,
		UserID:         sched.id.UserID,
		JobRoleID:      sched.id.JobRoleID,
		State:          sched.state,
		StartedAt:      sched.startedAt,
		SamplesEmitted: sched.samplesEmitted,
		VideoDrops:     videoDrops,
		AudioDrops:     audioDrops,
	}
	if sched.hasSample {
		last := sched.lastSample
		view.LastSample = &last
	}
	sched.mu.Unlock()
	return view, true
}

func (m *Manager) lookup(sessionID string) (*Scheduler, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sched, ok := m.sessions[sessionID]
	return sched, ok
}
