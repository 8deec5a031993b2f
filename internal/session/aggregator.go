package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mkessel/candor/pkg/analysis"
)

// Aggregator folds a closed session's persisted samples into its final
// score. Finalize is idempotent: unchanged store state yields an identical
// score apart from ComputedAt, and recomputation overwrites the stored one.
type Aggregator struct {
	store analysis.Store
	log   *slog.Logger
}

// NewAggregator constructs an aggregator.
func NewAggregator(store analysis.Store, log *slog.Logger) *Aggregator {
	if log == nil {
		log = slog.Default()
	}
	return &Aggregator{store: store, log: log}
}

// Finalize computes and persists the final score for a session. The id's
// UserID/JobRoleID act as fallbacks when the session has no samples to read
// them from. A session without samples yields the zero-filled score rather
// than an error.
func (a *Aggregator) Finalize(ctx context.Context, id Identity) (analysis.FinalScore, error) {
	samples, err := a.store.ListSamples(ctx, id.SessionID)
	if err != nil {
		return analysis.FinalScore{}, fmt.Errorf("aggregator: list samples: %w", err)
	}

	userID, jobRoleID := id.UserID, id.JobRoleID
	if len(samples) > 0 {
		if userID == "" {
			userID = samples[0].UserID
		}
		if jobRoleID == "" {
			jobRoleID = samples[0].JobRoleID
		}
	}

	weights := a.resolveWeights(ctx, jobRoleID)

	score := Aggregate(id.SessionID, userID, jobRoleID, samples, weights)
	score.ComputedAt = time.Now().UTC()

	if err := a.store.PersistFinalScore(ctx, score); err != nil {
		return analysis.FinalScore{}, fmt.Errorf("aggregator: persist final score: %w", err)
	}

	a.log.Info("final score computed",
		slog.String("session_id", id.SessionID),
		slog.Int("samples", score.SamplesAnalyzed),
		slog.Float64("overall_confidence", score.OverallConfidence),
		slog.Float64("overall_stress", score.OverallStress))
	return score, nil
}

// resolveWeights fetches the role's weights, falling back to
// [analysis.DefaultWeights] for unknown roles. Weights are used exactly as
// stored; an unnormalised role is only warned about, so a sum past 100 can
// push the overall confidence past 100.
func (a *Aggregator) resolveWeights(ctx context.Context, jobRoleID string) analysis.JobWeights {
	if jobRoleID == "" {
		return analysis.DefaultWeights
	}

	role, err := a.store.GetJobRole(ctx, jobRoleID)
	if errors.Is(err, analysis.ErrJobRoleNotFound) {
		a.log.Warn("job role not found, using default weights",
			slog.String("job_role_id", jobRoleID))
		return analysis.DefaultWeights
	}
	if err != nil {
		a.log.Error("job role lookup failed, using default weights",
			slog.String("job_role_id", jobRoleID),
			slog.String("error", err.Error()))
		return analysis.DefaultWeights
	}

	if sum := role.Weights.Sum(); sum < 99.9 || sum > 100.1 {
		a.log.Warn("job role weights do not sum to 100, using as stored",
			slog.String("job_role_id", jobRoleID),
			slog.Float64("sum", sum))
	}
	return role.Weights
}

// Aggregate is the pure scoring fold: per-modality ratios of positive binary
// values, weighted into an overall confidence, plus the stressed-sample
// percentage.
func Aggregate(sessionID, userID, jobRoleID string, samples []analysis.Sample, weights analysis.JobWeights) analysis.FinalScore {
	n := len(samples)

	var voicePos, handPos, eyePos, stressPos int
	for _, s := range samples {
		voicePos += s.VoiceConfidence.Confidence
		handPos += s.HandConfidence.Confidence
		eyePos += s.EyeConfidence.Confidence
		stressPos += s.FaceStress.Stress
	}

	ratio := func(pos int) float64 {
		if n == 0 {
			return 0
		}
		return float64(pos) / float64(n)
	}

	component := func(pos int, weight float64) analysis.ComponentScore {
		r := ratio(pos)
		return analysis.ComponentScore{
			Ratio:        r,
			Weight:       weight,
			Contribution: r * weight / 100,
		}
	}

	breakdown := map[string]analysis.ComponentScore{
		"voice": component(voicePos, weights.Voice),
		"hand":  component(handPos, weights.Hand),
		"eye":   component(eyePos, weights.Eye),
	}

	overallConfidence := (breakdown["voice"].Contribution +
		breakdown["hand"].Contribution +
		breakdown["eye"].Contribution) * 100
	overallStress := ratio(stressPos) * 100

	return analysis.FinalScore{
		SessionID:           sessionID,
		UserID:              userID,
		JobRoleID:           jobRoleID,
		ConfidenceBreakdown: breakdown,
		OverallConfidence:   overallConfidence,
		ConfidenceBand:      analysis.ConfidenceBand(overallConfidence),
		OverallStress:       overallStress,
		StressBand:          analysis.StressBand(overallStress),
		SamplesAnalyzed:     n,
		JobWeights:          weights,
	}
}
