package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mkessel/candor/pkg/analysis"
	"github.com/mkessel/candor/pkg/analysis/mock"
)

func TestEmitter_PersistsThenBroadcasts(t *testing.T) {
	t.Parallel()

	store := mock.NewStore()
	bus := &mock.EventBus{}
	e := NewEmitter(store, bus, newTestMetrics(t), nopLogger())

	sample := analysis.Sample{SessionID: "s1", Timestamp: time.Now()}
	e.Emit(context.Background(), sample, "composite")

	if got := len(store.Samples("s1")); got != 1 {
		t.Fatalf("persisted = %d, want 1", got)
	}
	calls := bus.Broadcasts()
	if len(calls) != 1 {
		t.Fatalf("broadcasts = %d, want 1", len(calls))
	}
	if calls[0].Event != EventAnalysisUpdate {
		t.Errorf("event = %q, want %q", calls[0].Event, EventAnalysisUpdate)
	}
	update, ok := calls[0].Payload.(AnalysisUpdate)
	if !ok {
		t.Fatalf("payload type = %T", calls[0].Payload)
	}
	if update.SessionID != "s1" || !update.Timestamp.Equal(sample.Timestamp) {
		t.Errorf("update = %+v", update)
	}
}

func TestEmitter_StoreFailureStillBroadcasts(t *testing.T) {
	t.Parallel()

	store := mock.NewStore()
	store.Err = errors.New("connection refused")
	bus := &mock.EventBus{}
	e := NewEmitter(store, bus, newTestMetrics(t), nopLogger())

	e.Emit(context.Background(), analysis.Sample{SessionID: "s1"}, "composite")

	// The sample is lost but the live stream keeps flowing.
	if got := len(bus.Broadcasts()); got != 1 {
		t.Errorf("broadcasts = %d, want 1 despite the store failure", got)
	}
}

func TestEmitter_BusFailureIsBestEffort(t *testing.T) {
	t.Parallel()

	store := mock.NewStore()
	bus := &mock.EventBus{Err: errors.New("hub closed")}
	e := NewEmitter(store, bus, newTestMetrics(t), nopLogger())

	// Must not panic or block; the sample is still persisted.
	e.Emit(context.Background(), analysis.Sample{SessionID: "s1"}, "composite")
	if got := len(store.Samples("s1")); got != 1 {
		t.Errorf("persisted = %d, want 1", got)
	}
}
