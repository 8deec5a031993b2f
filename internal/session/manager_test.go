package session

import (
	"context"
	"errors"
	"testing"
	"time"

	amock "github.com/mkessel/candor/pkg/analysis/mock"
	"github.com/mkessel/candor/pkg/detector"
	dmock "github.com/mkessel/candor/pkg/detector/mock"
	"github.com/mkessel/candor/pkg/media"
)

func newTestManager(t *testing.T) (*Manager, *amock.Store, *amock.EventBus) {
	t.Helper()
	store := amock.NewStore()
	bus := &amock.EventBus{}
	metrics := newTestMetrics(t)
	emitter := NewEmitter(store, bus, metrics, nil)
	agg := NewAggregator(store, nopLogger())
	m := NewManager(defaultDetectors(), emitter, agg, metrics, testTiming(), nopLogger())
	return m, store, bus
}

func TestManager_StartRejectsDuplicate(t *testing.T) {
	t.Parallel()

	m, _, _ := newTestManager(t)
	defer m.StopAll()
	ctx := context.Background()
	id := Identity{SessionID: "s1", UserID: "u1", JobRoleID: "r1"}

	if err := m.Start(ctx, id); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.Start(ctx, id); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start = %v, want ErrAlreadyRunning", err)
	}

	view, ok := m.Lookup("s1")
	if !ok {
		t.Fatal("Lookup found no session")
	}
	if view.State != StateRunning {
		t.Errorf("state = %q, want running", view.State)
	}
	if view.UserID != "u1" || view.JobRoleID != "r1" {
		t.Errorf("view identity = %q/%q", view.UserID, view.JobRoleID)
	}
}

func TestManager_StopRemovesAndFinalizes(t *testing.T) {
	t.Parallel()

	m, store, _ := newTestManager(t)
	ctx := context.Background()
	id := Identity{SessionID: "s1", UserID: "u1", JobRoleID: "r1"}

	if err := m.Start(ctx, id); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 2*time.Second, func() bool {
		return len(store.Samples("s1")) >= 1
	}, "one sample before stop")

	if err := m.Stop("s1"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if _, ok := m.Lookup("s1"); ok {
		t.Error("stopped session still in registry")
	}
	if m.Active("s1") {
		t.Error("stopped session reported active")
	}

	// Aggregation runs detached after Stop returns.
	waitFor(t, 2*time.Second, func() bool {
		_, ok := store.FinalScore("s1")
		return ok
	}, "final score persisted")

	score, _ := store.FinalScore("s1")
	if score.SessionID != "s1" || score.UserID != "u1" {
		t.Errorf("final score identity = %q/%q", score.SessionID, score.UserID)
	}
	if score.SamplesAnalyzed == 0 {
		t.Error("final score analyzed no samples")
	}
}

func TestManager_StopUnknownSession(t *testing.T) {
	t.Parallel()

	m, _, _ := newTestManager(t)
	if err := m.Stop("nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Stop = %v, want ErrSessionNotFound", err)
	}
}

func TestManager_OfferToUnknownSession(t *testing.T) {
	t.Parallel()

	m, _, _ := newTestManager(t)

	err := m.OfferVideo("nope", media.VideoFrame{SessionID: "nope", CapturedAt: time.Now()})
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("OfferVideo = %v, want ErrSessionNotFound", err)
	}
	err = m.OfferAudio("nope", media.AudioChunk{SessionID: "nope", Samples: []float32{0}, SampleRate: 16000, ArrivedAt: time.Now()})
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("OfferAudio = %v, want ErrSessionNotFound", err)
	}
}

func TestManager_StopAll(t *testing.T) {
	t.Parallel()

	m, _, _ := newTestManager(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		if err := m.Start(ctx, Identity{SessionID: id}); err != nil {
			t.Fatalf("Start %s: %v", id, err)
		}
	}

	m.StopAll()

	for _, id := range []string{"a", "b", "c"} {
		if m.Active(id) {
			t.Errorf("session %s still active after StopAll", id)
		}
	}
}

func TestManager_FatalTickRemovesSession(t *testing.T) {
	t.Parallel()

	store := amock.NewStore()
	bus := &amock.EventBus{}
	metrics := newTestMetrics(t)
	emitter := NewEmitter(store, bus, metrics, nil)
	agg := NewAggregator(store, nopLogger())

	det := defaultDetectors()
	det.Face = &dmock.FaceDetector{Fn: func(media.VideoFrame) detector.FaceStress {
		panic("model blew up")
	}}
	m := NewManager(det, emitter, agg, metrics, testTiming(), nopLogger())

	ctx := context.Background()
	if err := m.Start(ctx, Identity{SessionID: "s1"}); err != nil {
		t.Fatal(err)
	}
	if err := m.OfferVideo("s1", media.VideoFrame{SessionID: "s1", CapturedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}

	waitFor(t, 2*time.Second, func() bool {
		return !m.Active("s1")
	}, "fatal session removed from registry")

	// The id is free again: a fresh Start succeeds.
	if err := m.Start(ctx, Identity{SessionID: "s1"}); err != nil {
		t.Errorf("restart after fatal = %v", err)
	}
	m.StopAll()
}
