// Package session implements the per-session realtime analysis engine: the
// scheduler that drives detector cadences, the canonical binary envelope, the
// emitter, the manager registry and the final-score aggregator.
package session

import (
	"strings"
	"time"

	"github.com/mkessel/candor/pkg/analysis"
	"github.com/mkessel/candor/pkg/detector"
)

// FaceState is the scheduler's retained facial-stress observation.
type FaceState struct {
	Result detector.FaceStress

	// At is when the detector run that produced Result happened.
	At time.Time

	// Observed is false until the modality has run at least once.
	Observed bool
}

// EyeState is the scheduler's retained eye-gaze observation.
type EyeState struct {
	Result   detector.EyeConfidence
	At       time.Time
	Observed bool
}

// HandState is the scheduler's retained hand-pose observation.
type HandState struct {
	Result   detector.HandConfidence
	At       time.Time
	Observed bool
}

// VoiceState is the scheduler's retained vocal-emotion observation.
type VoiceState struct {
	Result   detector.VoiceConfidence
	At       time.Time
	Observed bool
}

// Identity names the session a sample belongs to.
type Identity struct {
	SessionID string
	UserID    string
	JobRoleID string
}

// Canonicalize maps the retained modality states onto one [analysis.Sample].
// It is a pure function: identical inputs produce identical output, including
// the per-component timestamps.
func Canonicalize(id Identity, ts time.Time, face FaceState, eye EyeState, hand HandState, voice VoiceState) analysis.Sample {
	bEye := binaryConfidence(eye.Result.ConfidenceLevel)
	bHand := binaryConfidence(hand.Result.ConfidenceLevel)
	bVoice := binaryVoice(voice.Result)

	stress := 0
	if face.Result.StressLevel == detector.StressDetected {
		stress = 1
	}

	return analysis.Sample{
		SessionID: id.SessionID,
		UserID:    id.UserID,
		JobRoleID: id.JobRoleID,
		Timestamp: ts,
		FaceStress: analysis.FaceStressComponent{
			Stress:        stress,
			StressLevel:   string(face.Result.StressLevel),
			Emotion:       face.Result.Emotion,
			FacesDetected: face.Result.FacesDetected,
			Score:         face.Result.Confidence,
			Method:        face.Result.Method,
			Timestamp:     face.At,
		},
		EyeConfidence: analysis.EyeConfidenceComponent{
			Confidence:      bEye,
			ConfidenceLevel: string(eye.Result.ConfidenceLevel),
			EyesDetected:    eye.Result.EyesDetected,
			Score:           eye.Result.Confidence,
			Method:          eye.Result.Method,
			Timestamp:       eye.At,
		},
		HandConfidence: analysis.HandConfidenceComponent{
			Confidence:       bHand,
			ConfidenceLevel:  string(hand.Result.ConfidenceLevel),
			HandsDetected:    hand.Result.HandsDetected,
			GesturesDetected: hand.Result.Gestures,
			Score:            hand.Result.Confidence,
			Method:           hand.Result.Method,
			Timestamp:        hand.At,
		},
		VoiceConfidence: analysis.VoiceConfidenceComponent{
			Confidence:      bVoice,
			ConfidenceLevel: string(voice.Result.ConfidenceLevel),
			Emotion:         voice.Result.Emotion,
			Score:           voice.Result.Confidence,
			Method:          voice.Result.Method,
			Timestamp:       voice.At,
		},
		Overall: analysis.OverallScores{
			ConfidenceScore: overallConfidence(bEye, bHand, bVoice, eye.Observed, hand.Observed, voice.Observed),
			StressScore:     stressScore(face.Result),
		},
	}
}

// binaryConfidence implements the envelope rule for eye and hand: 1 iff the
// level reads "confident" without "not".
func binaryConfidence(level detector.ConfidenceLevel) int {
	s := strings.ToLower(string(level))
	if strings.Contains(s, "confident") && !strings.Contains(s, "not") {
		return 1
	}
	return 0
}

// binaryVoice applies the voice rule: a confident-valued level counts, and so
// does a good emotion even under a weaker level.
func binaryVoice(v detector.VoiceConfidence) int {
	if binaryConfidence(v.ConfidenceLevel) == 1 {
		return 1
	}
	if detector.GoodEmotions[v.Emotion] {
		return 1
	}
	return 0
}

// overallConfidence is the equal-weight mean of the binary confidence values
// over the modalities with a current observation; 0.5 when none.
func overallConfidence(bEye, bHand, bVoice int, eyeObs, handObs, voiceObs bool) float64 {
	sum, n := 0, 0
	if eyeObs {
		sum += bEye
		n++
	}
	if handObs {
		sum += bHand
		n++
	}
	if voiceObs {
		sum += bVoice
		n++
	}
	if n == 0 {
		return 0.5
	}
	return float64(sum) / float64(n)
}

// stressScore maps the face observation onto [0,1]: the classifier score when
// stressed, its complement when relaxed, 0.5 when unknown.
func stressScore(face detector.FaceStress) float64 {
	switch face.StressLevel {
	case detector.StressDetected:
		return face.Confidence
	case detector.StressAbsent:
		return 1 - face.Confidence
	default:
		return 0.5
	}
}
