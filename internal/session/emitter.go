package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/mkessel/candor/internal/observe"
	"github.com/mkessel/candor/pkg/analysis"
)

// EventAnalysisUpdate is the broadcast event name for emitted samples.
const EventAnalysisUpdate = "analysis_update"

// AnalysisUpdate is the broadcast payload wrapping one sample.
type AnalysisUpdate struct {
	SessionID string          `json:"session_id"`
	Timestamp time.Time       `json:"timestamp"`
	Analysis  analysis.Sample `json:"analysis"`
}

// Emitter persists samples and broadcasts them to subscribers. Persistence
// happens first; a store failure loses the sample but never blocks the next
// tick, and broadcast is best-effort either way. Safe for concurrent use
// across sessions.
type Emitter struct {
	store   analysis.Store
	bus     analysis.EventBus
	metrics *observe.Metrics
	log     *slog.Logger
}

// NewEmitter constructs an emitter. metrics may not be nil; pass a logger or
// nil for [slog.Default].
func NewEmitter(store analysis.Store, bus analysis.EventBus, metrics *observe.Metrics, log *slog.Logger) *Emitter {
	if log == nil {
		log = slog.Default()
	}
	return &Emitter{store: store, bus: bus, metrics: metrics, log: log}
}

// Emit persists then broadcasts one sample. kind tags the emission for
// metrics ("composite", "final_flush").
func (e *Emitter) Emit(ctx context.Context, sample analysis.Sample, kind string) {
	if err := e.store.PersistSample(ctx, sample); err != nil {
		e.metrics.RecordStoreError(ctx, "persist_sample")
		e.log.Error("persist sample failed",
			slog.String("session_id", sample.SessionID),
			slog.String("error", err.Error()))
	}

	e.Broadcast(ctx, sample)
	e.metrics.RecordSample(ctx, kind)
}

// Broadcast sends the analysis_update event without persisting. Used by Emit
// and by the fatal-tick path, which must not write a partial sample.
func (e *Emitter) Broadcast(ctx context.Context, sample analysis.Sample) {
	update := AnalysisUpdate{
		SessionID: sample.SessionID,
		Timestamp: sample.Timestamp,
		Analysis:  sample,
	}
	if err := e.bus.Broadcast(ctx, sample.SessionID, EventAnalysisUpdate, update); err != nil {
		e.metrics.BusErrors.Add(ctx, 1)
		e.log.Warn("broadcast failed",
			slog.String("session_id", sample.SessionID),
			slog.String("error", err.Error()))
	}
}
