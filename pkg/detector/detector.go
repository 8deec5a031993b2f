// Package detector defines the contracts for the four inference modalities
// (facial stress, eye-gaze confidence, hand-pose confidence, vocal-emotion
// confidence) and the result types they produce.
//
// Detectors are stateless in the observable sense: two calls with identical
// inputs produce identical outputs. They may hold lazily-initialised model
// state internally but never mutate it across calls.
//
// Detectors never return errors. A failed inference maps to the modality's
// designated unknown classification with zero confidence and the "error"
// method tag; the scheduler treats that like any other result.
//
// Implementations must be safe for concurrent use across sessions. The
// per-session scheduler already serialises calls for one session, but many
// sessions share the same detector instances.
package detector

import (
	"context"

	"github.com/mkessel/candor/pkg/media"
)

// StressLevel classifies the facial-stress modality.
type StressLevel string

const (
	StressDetected StressLevel = "stress"
	StressAbsent   StressLevel = "non_stress"
	StressUnknown  StressLevel = "unknown"
)

// ConfidenceLevel classifies the eye, hand, and voice modalities.
//
// The canonical binarization rule treats a level as confident when its name
// contains "confident" without "not" — so LevelSomewhatConfident is a
// positive signal while LevelNotConfident is not.
type ConfidenceLevel string

const (
	LevelConfident         ConfidenceLevel = "confident"
	LevelSomewhatConfident ConfidenceLevel = "somewhat_confident"
	LevelNotConfident      ConfidenceLevel = "not_confident"
	LevelNoFace            ConfidenceLevel = "no_face"
	LevelNoEyes            ConfidenceLevel = "no_eyes"
	LevelNoHands           ConfidenceLevel = "no_hands"
	LevelNoAudio           ConfidenceLevel = "no_audio"
	LevelSessionStopped    ConfidenceLevel = "session_stopped"
	LevelUnknown           ConfidenceLevel = "unknown"
)

// Emotion tags produced by the face and voice modalities.
const (
	EmotionHappy    = "happy"
	EmotionCalm     = "calm"
	EmotionNeutral  = "neutral"
	EmotionAngry    = "angry"
	EmotionSad      = "sad"
	EmotionFearful  = "fearful"
	EmotionStressed = "stressed"
	EmotionFear     = "fear"
	EmotionDisgust  = "disgust"
	EmotionNoAudio  = "no_audio"
	EmotionUnknown  = "unknown"
)

// Method tags describing which strategy produced a result.
const (
	MethodModel     = "model"
	MethodHeuristic = "heuristic"
	MethodError     = "error"
	MethodNone      = "none"
)

// FaceStress is the facial-stress modality result.
type FaceStress struct {
	StressLevel   StressLevel
	Emotion       string
	FacesDetected int

	// Confidence of the classification in [0, 1]. Zero on failure.
	Confidence float64

	// Method names the strategy that produced this result.
	Method string
}

// EyeConfidence is the eye-gaze modality result.
type EyeConfidence struct {
	ConfidenceLevel ConfidenceLevel
	EyesDetected    int
	Confidence      float64
	Method          string
}

// HandConfidence is the hand-pose modality result.
type HandConfidence struct {
	ConfidenceLevel ConfidenceLevel
	HandsDetected   int

	// Gestures lists recognised gesture names, e.g. "open_palm".
	Gestures []string

	Confidence float64
	Method     string
}

// VoiceConfidence is the vocal-emotion modality result.
type VoiceConfidence struct {
	ConfidenceLevel ConfidenceLevel
	Emotion         string
	Confidence      float64
	Method          string
}

// FaceDetector analyses one video frame for facial stress.
type FaceDetector interface {
	Analyze(ctx context.Context, frame media.VideoFrame) FaceStress
}

// EyeDetector analyses one video frame for eye-gaze confidence.
type EyeDetector interface {
	Analyze(ctx context.Context, frame media.VideoFrame) EyeConfidence
}

// HandDetector analyses one video frame for hand-pose confidence.
type HandDetector interface {
	Analyze(ctx context.Context, frame media.VideoFrame) HandConfidence
}

// VoiceDetector analyses one audio window for vocal emotion.
type VoiceDetector interface {
	Analyze(ctx context.Context, window media.AudioWindow) VoiceConfidence
}

// Set bundles one detector per modality. Detectors are shared read-only
// across all sessions.
type Set struct {
	Face  FaceDetector
	Eye   EyeDetector
	Hand  HandDetector
	Voice VoiceDetector
}

// GoodEmotions are the voice emotions counted as a positive confidence
// signal by the canonicalizer.
var GoodEmotions = map[string]bool{
	EmotionHappy:   true,
	EmotionCalm:    true,
	EmotionNeutral: true,
}

// BadEmotions are the voice emotions counted as a negative signal.
var BadEmotions = map[string]bool{
	EmotionAngry:    true,
	EmotionSad:      true,
	EmotionFearful:  true,
	EmotionStressed: true,
	EmotionFear:     true,
	EmotionDisgust:  true,
}
