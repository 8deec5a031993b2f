// Package analysis defines the canonical emission types of the engine — the
// per-tick [Sample] with its binary envelope, the post-session [FinalScore] —
// together with the [Store] and [EventBus] contracts the engine consumes.
//
// The binary envelope is the observable contract: downstream aggregation is
// defined purely over the {0,1} projection of each modality, which keeps the
// system robust to detector replacement.
package analysis

import (
	"time"
)

// FaceStressComponent is the facial-stress entry of a [Sample].
type FaceStressComponent struct {
	// Stress is the binary envelope value: 1 iff the stress level is "stress".
	Stress int `json:"stress"`

	StressLevel   string    `json:"stress_level"`
	Emotion       string    `json:"emotion"`
	FacesDetected int       `json:"faces_detected"`
	Score         float64   `json:"score"`
	Method        string    `json:"method"`
	Timestamp     time.Time `json:"timestamp"`
}

// EyeConfidenceComponent is the eye-gaze entry of a [Sample].
type EyeConfidenceComponent struct {
	// Confidence is the binary envelope value.
	Confidence int `json:"confidence"`

	ConfidenceLevel string    `json:"confidence_level"`
	EyesDetected    int       `json:"eyes_detected"`
	Score           float64   `json:"score"`
	Method          string    `json:"method"`
	Timestamp       time.Time `json:"timestamp"`
}

// HandConfidenceComponent is the hand-pose entry of a [Sample].
type HandConfidenceComponent struct {
	// Confidence is the binary envelope value.
	Confidence int `json:"confidence"`

	ConfidenceLevel  string    `json:"confidence_level"`
	HandsDetected    int       `json:"hands_detected"`
	GesturesDetected []string  `json:"gestures_detected"`
	Score            float64   `json:"score"`
	Method           string    `json:"method"`
	Timestamp        time.Time `json:"timestamp"`
}

// VoiceConfidenceComponent is the vocal-emotion entry of a [Sample].
type VoiceConfidenceComponent struct {
	// Confidence is the binary envelope value.
	Confidence int `json:"confidence"`

	ConfidenceLevel string    `json:"confidence_level"`
	Emotion         string    `json:"emotion"`
	Score           float64   `json:"score"`
	Method          string    `json:"method"`
	Timestamp       time.Time `json:"timestamp"`
}

// OverallScores carries the informational continuous scores of a [Sample].
type OverallScores struct {
	// ConfidenceScore is the equal-weight mean of the binary confidence
	// values over the modalities with a current observation; 0.5 when none.
	ConfidenceScore float64 `json:"confidence_score"`

	// StressScore reflects the face modality: the classifier score when
	// stressed, its complement when relaxed, 0.5 when unknown.
	StressScore float64 `json:"stress_score"`
}

// Sample is the canonical emission unit: one binary envelope per composite
// tick, persisted and broadcast.
//
// Invariants: every binary field is 0 or 1; Timestamp is strictly increasing
// per session; each component carries the timestamp of the detector run that
// produced it, which may lag the sample timestamp.
type Sample struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	JobRoleID string    `json:"job_role_id"`
	Timestamp time.Time `json:"timestamp"`

	FaceStress      FaceStressComponent      `json:"face_stress"`
	EyeConfidence   EyeConfidenceComponent   `json:"eye_confidence"`
	HandConfidence  HandConfidenceComponent  `json:"hand_confidence"`
	VoiceConfidence VoiceConfidenceComponent `json:"voice_confidence"`

	Overall OverallScores `json:"overall"`
}

// JobWeights are the per-modality aggregation weights of a job role,
// expressed as percentages that nominally sum to 100.
type JobWeights struct {
	Voice float64 `json:"voice"`
	Hand  float64 `json:"hand"`
	Eye   float64 `json:"eye"`
}

// Sum returns voice+hand+eye.
func (w JobWeights) Sum() float64 { return w.Voice + w.Hand + w.Eye }

// DefaultWeights is used when a session's job role cannot be resolved.
var DefaultWeights = JobWeights{Voice: 33.33, Hand: 33.33, Eye: 33.34}

// JobRole carries the aggregation weights for one role.
type JobRole struct {
	JobRoleID string     `json:"job_role_id"`
	Name      string     `json:"name,omitempty"`
	Weights   JobWeights `json:"weights"`
}

// ComponentScore is one modality's line in the final confidence breakdown.
type ComponentScore struct {
	// Ratio is count(samples with component=1) / total samples, in [0,1].
	Ratio float64 `json:"ratio"`

	// Weight is the job-role weight applied, as a percentage.
	Weight float64 `json:"weight"`

	// Contribution is Ratio × Weight / 100.
	Contribution float64 `json:"contribution"`
}

// FinalScore is the post-session aggregate, computed once per session close
// and overwritten on recomputation.
type FinalScore struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	JobRoleID string `json:"job_role_id"`

	// ConfidenceBreakdown has one entry per confidence modality:
	// "voice", "hand", "eye".
	ConfidenceBreakdown map[string]ComponentScore `json:"confidence_breakdown"`

	// OverallConfidence is the weighted confidence total on a 0–100 scale.
	// Weights are applied as stored; a role whose weights sum past 100 can
	// push this past 100.
	OverallConfidence float64 `json:"overall_confidence"`
	ConfidenceBand    string  `json:"confidence_band"`

	// OverallStress is the stressed-sample percentage, 0–100.
	OverallStress float64 `json:"overall_stress"`
	StressBand    string  `json:"stress_band"`

	SamplesAnalyzed int        `json:"samples_analyzed"`
	JobWeights      JobWeights `json:"job_weights"`
	ComputedAt      time.Time  `json:"computed_at"`
}

// Band labels shared by the confidence and stress classifications.
const (
	BandVeryHigh = "Very High"
	BandHigh     = "High"
	BandMedium   = "Medium"
	BandLow      = "Low"
	BandVeryLow  = "Very Low"
)

// ConfidenceBand classifies an overall confidence value. Bands are
// lower-inclusive: [80,100] Very High, [60,80) High, and so on. Values above
// 100 (unnormalized weights) stay Very High.
func ConfidenceBand(v float64) string {
	switch {
	case v >= 80:
		return BandVeryHigh
	case v >= 60:
		return BandHigh
	case v >= 40:
		return BandMedium
	case v >= 20:
		return BandLow
	default:
		return BandVeryLow
	}
}

// StressBand classifies an overall stress value. Bands are upper-inclusive:
// [0,20] Very Low, (20,40] Low, and so on.
func StressBand(v float64) string {
	switch {
	case v <= 20:
		return BandVeryLow
	case v <= 40:
		return BandLow
	case v <= 60:
		return BandMedium
	case v <= 80:
		return BandHigh
	default:
		return BandVeryHigh
	}
}
