package session

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/mkessel/candor/pkg/analysis"
	"github.com/mkessel/candor/pkg/analysis/mock"
)

// sampleWith builds a minimal persisted sample with the given binary values.
func sampleWith(sessionID string, ts time.Time, stress, eye, hand, voice int) analysis.Sample {
	return analysis.Sample{
		SessionID:       sessionID,
		UserID:          "u1",
		JobRoleID:       "r1",
		Timestamp:       ts,
		FaceStress:      analysis.FaceStressComponent{Stress: stress},
		EyeConfidence:   analysis.EyeConfidenceComponent{Confidence: eye},
		HandConfidence:  analysis.HandConfidenceComponent{Confidence: hand},
		VoiceConfidence: analysis.VoiceConfidenceComponent{Confidence: voice},
	}
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func TestAggregate_WeightedFold(t *testing.T) {
	t.Parallel()

	base := time.Now()
	samples := []analysis.Sample{
		sampleWith("s1", base, 1, 1, 1, 1),
		sampleWith("s1", base.Add(10*time.Second), 0, 1, 0, 1),
		sampleWith("s1", base.Add(20*time.Second), 0, 1, 0, 0),
		sampleWith("s1", base.Add(30*time.Second), 1, 0, 1, 1),
	}
	weights := analysis.JobWeights{Voice: 50, Hand: 30, Eye: 20}

	score := Aggregate("s1", "u1", "r1", samples, weights)

	// voice 3/4, hand 2/4, eye 3/4.
	if got := score.ConfidenceBreakdown["voice"]; !almostEqual(got.Ratio, 0.75) || !almostEqual(got.Contribution, 0.75*50/100) {
		t.Errorf("voice component = %+v", got)
	}
	if got := score.ConfidenceBreakdown["hand"]; !almostEqual(got.Ratio, 0.5) || !almostEqual(got.Contribution, 0.5*30/100) {
		t.Errorf("hand component = %+v", got)
	}
	if got := score.ConfidenceBreakdown["eye"]; !almostEqual(got.Ratio, 0.75) || !almostEqual(got.Contribution, 0.75*20/100) {
		t.Errorf("eye component = %+v", got)
	}

	wantConfidence := (0.75*50/100 + 0.5*30/100 + 0.75*20/100) * 100
	if !almostEqual(score.OverallConfidence, wantConfidence) {
		t.Errorf("overall confidence = %v, want %v", score.OverallConfidence, wantConfidence)
	}
	if !almostEqual(score.OverallStress, 50) {
		t.Errorf("overall stress = %v, want 50", score.OverallStress)
	}
	if score.SamplesAnalyzed != 4 {
		t.Errorf("samples analyzed = %d, want 4", score.SamplesAnalyzed)
	}
	if score.ConfidenceBand != analysis.BandHigh {
		t.Errorf("confidence band = %q, want %q", score.ConfidenceBand, analysis.BandHigh)
	}
	if score.StressBand != analysis.BandMedium {
		t.Errorf("stress band = %q, want %q", score.StressBand, analysis.BandMedium)
	}
}

func TestAggregate_NoSamples(t *testing.T) {
	t.Parallel()

	score := Aggregate("s1", "u1", "r1", nil, analysis.DefaultWeights)

	if score.SamplesAnalyzed != 0 {
		t.Errorf("samples analyzed = %d, want 0", score.SamplesAnalyzed)
	}
	if score.OverallConfidence != 0 || score.OverallStress != 0 {
		t.Errorf("overall scores = %v/%v, want 0/0", score.OverallConfidence, score.OverallStress)
	}
	if score.ConfidenceBand != analysis.BandVeryLow {
		t.Errorf("confidence band = %q, want %q", score.ConfidenceBand, analysis.BandVeryLow)
	}
	if score.StressBand != analysis.BandVeryLow {
		t.Errorf("stress band = %q, want %q", score.StressBand, analysis.BandVeryLow)
	}
	for name, c := range score.ConfidenceBreakdown {
		if c.Ratio != 0 || c.Contribution != 0 {
			t.Errorf("%s component = %+v, want zero ratio and contribution", name, c)
		}
	}
}

func TestAggregate_UnnormalizedWeightsUsedAsGiven(t *testing.T) {
	t.Parallel()

	samples := []analysis.Sample{sampleWith("s1", time.Now(), 0, 1, 1, 1)}
	score := Aggregate("s1", "u1", "r1", samples, analysis.JobWeights{Voice: 50, Hand: 50, Eye: 50})

	// All ratios 1, weights sum to 150: the overall exceeds 100 on purpose.
	if !almostEqual(score.OverallConfidence, 150) {
		t.Errorf("overall confidence = %v, want 150", score.OverallConfidence)
	}
	if score.ConfidenceBand != analysis.BandVeryHigh {
		t.Errorf("confidence band = %q, want %q", score.ConfidenceBand, analysis.BandVeryHigh)
	}
}

func TestAggregator_Finalize(t *testing.T) {
	t.Parallel()

	store := mock.NewStore()
	store.SeedJobRole(analysis.JobRole{
		JobRoleID: "r1",
		Name:      "Backend Engineer",
		Weights:   analysis.JobWeights{Voice: 40, Hand: 30, Eye: 30},
	})
	base := time.Now()
	ctx := context.Background()
	for i, s := range []analysis.Sample{
		sampleWith("s1", base, 1, 1, 0, 1),
		sampleWith("s1", base.Add(10*time.Second), 0, 0, 1, 1),
	} {
		if err := store.PersistSample(ctx, s); err != nil {
			t.Fatalf("seed sample %d: %v", i, err)
		}
	}

	agg := NewAggregator(store, nil)
	score, err := agg.Finalize(ctx, Identity{SessionID: "s1"})
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	if score.UserID != "u1" || score.JobRoleID != "r1" {
		t.Errorf("identity fallback from samples failed: user=%q role=%q", score.UserID, score.JobRoleID)
	}
	if score.JobWeights != (analysis.JobWeights{Voice: 40, Hand: 30, Eye: 30}) {
		t.Errorf("weights = %+v, want the seeded role weights", score.JobWeights)
	}
	want := (1.0*40/100 + 0.5*30/100 + 0.5*30/100) * 100
	if !almostEqual(score.OverallConfidence, want) {
		t.Errorf("overall confidence = %v, want %v", score.OverallConfidence, want)
	}
	if score.ComputedAt.IsZero() {
		t.Error("ComputedAt not set")
	}

	stored, ok := store.FinalScore("s1")
	if !ok {
		t.Fatal("final score not persisted")
	}
	if stored.OverallConfidence != score.OverallConfidence {
		t.Error("persisted score differs from the returned one")
	}
}

func TestAggregator_FinalizeIdempotent(t *testing.T) {
	t.Parallel()

	store := mock.NewStore()
	ctx := context.Background()
	if err := store.PersistSample(ctx, sampleWith("s1", time.Now(), 1, 0, 1, 0)); err != nil {
		t.Fatal(err)
	}

	agg := NewAggregator(store, nil)
	first, err := agg.Finalize(ctx, Identity{SessionID: "s1"})
	if err != nil {
		t.Fatal(err)
	}
	second, err := agg.Finalize(ctx, Identity{SessionID: "s1"})
	if err != nil {
		t.Fatal(err)
	}

	// Identical store state yields an identical score apart from ComputedAt.
	first.ComputedAt = time.Time{}
	second.ComputedAt = time.Time{}
	if first.OverallConfidence != second.OverallConfidence ||
		first.OverallStress != second.OverallStress ||
		first.SamplesAnalyzed != second.SamplesAnalyzed ||
		first.ConfidenceBand != second.ConfidenceBand ||
		first.StressBand != second.StressBand {
		t.Errorf("recomputation drifted: first=%+v second=%+v", first, second)
	}
}

func TestAggregator_UnknownRoleFallsBack(t *testing.T) {
	t.Parallel()

	store := mock.NewStore()
	ctx := context.Background()
	if err := store.PersistSample(ctx, sampleWith("s1", time.Now(), 0, 1, 1, 1)); err != nil {
		t.Fatal(err)
	}

	agg := NewAggregator(store, nil)
	score, err := agg.Finalize(ctx, Identity{SessionID: "s1", JobRoleID: "missing"})
	if err != nil {
		t.Fatal(err)
	}
	if score.JobWeights != analysis.DefaultWeights {
		t.Errorf("weights = %+v, want defaults for an unknown role", score.JobWeights)
	}
}

func TestBands_Boundaries(t *testing.T) {
	t.Parallel()

	confidence := []struct {
		v    float64
		want string
	}{
		{100, analysis.BandVeryHigh},
		{80, analysis.BandVeryHigh},
		{79.999, analysis.BandHigh},
		{60, analysis.BandHigh},
		{40, analysis.BandMedium},
		{20, analysis.BandLow},
		{19.999, analysis.BandVeryLow},
		{0, analysis.BandVeryLow},
	}
	for _, tc := range confidence {
		if got := analysis.ConfidenceBand(tc.v); got != tc.want {
			t.Errorf("ConfidenceBand(%v) = %q, want %q", tc.v, got, tc.want)
		}
	}

	stress := []struct {
		v    float64
		want string
	}{
		{0, analysis.BandVeryLow},
		{20, analysis.BandVeryLow},
		{20.001, analysis.BandLow},
		{40, analysis.BandLow},
		{60, analysis.BandMedium},
		{80, analysis.BandHigh},
		{80.001, analysis.BandVeryHigh},
		{100, analysis.BandVeryHigh},
	}
	for _, tc := range stress {
		if got := analysis.StressBand(tc.v); got != tc.want {
			t.Errorf("StressBand(%v) = %q, want %q", tc.v, got, tc.want)
		}
	}
}
