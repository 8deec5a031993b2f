// Package face implements the facial-stress detector.
//
// The primary strategy runs a facial-emotion ONNX classifier (FER-style
// seven-class head) and maps the predicted emotion to a stress level. The
// secondary strategy is a pixel heuristic: a skin-tone presence check
// stands in for face detection and luma statistics give a rough
// stressed/relaxed split. When no model is configured the chain holds only
// the heuristic.
package face

import (
	"context"
	"fmt"

	"github.com/mkessel/candor/internal/resilience"
	"github.com/mkessel/candor/pkg/detector"
	"github.com/mkessel/candor/pkg/detector/onnx"
	"github.com/mkessel/candor/pkg/detector/vision"
	"github.com/mkessel/candor/pkg/media"
)

// inputSize is the side length the emotion model expects.
const inputSize = 224

// emotionClasses is the output head order of the bundled FER model.
var emotionClasses = []string{
	detector.EmotionAngry,
	detector.EmotionDisgust,
	detector.EmotionFear,
	detector.EmotionHappy,
	detector.EmotionSad,
	"surprise",
	detector.EmotionNeutral,
}

// stressfulEmotions maps each class to whether it counts as stress.
var stressfulEmotions = map[string]bool{
	detector.EmotionAngry:   true,
	detector.EmotionDisgust: true,
	detector.EmotionFear:    true,
	detector.EmotionSad:     true,
}

// minClassConfidence is the probability below which the model result is
// treated as a decline so the heuristic gets a chance.
const minClassConfidence = 0.35

// strategy is one way of classifying a frame.
type strategy interface {
	classify(ctx context.Context, frame media.VideoFrame) (detector.FaceStress, error)
}

// Detector implements [detector.FaceDetector] as an ordered strategy chain.
type Detector struct {
	chain *resilience.Chain[strategy]
}

var _ detector.FaceDetector = (*Detector)(nil)

// Config for the face detector.
type Config struct {
	// ModelPath is the emotion classifier .onnx file. Empty disables the
	// model strategy.
	ModelPath string

	// Breaker tunes the per-strategy circuit breakers.
	Breaker resilience.BreakerConfig
}

// New constructs the face detector. When cfg.ModelPath is set the ONNX
// classifier is loaded eagerly so wiring errors surface at startup.
func New(cfg Config) (*Detector, error) {
	var chain *resilience.Chain[strategy]

	if cfg.ModelPath != "" {
		cls, err := onnx.NewClassifier(onnx.ClassifierConfig{
			ModelPath:  cfg.ModelPath,
			InputShape: []int64{1, 3, inputSize, inputSize},
			OutputSize: int64(len(emotionClasses)),
		})
		if err != nil {
			return nil, fmt.Errorf("face: load model: %w", err)
		}
		chain = resilience.NewChain[strategy](&modelStrategy{cls: cls}, "face/model", cfg.Breaker)
		chain.AddStrategy("face/heuristic", heuristicStrategy{})
	} else {
		chain = resilience.NewChain[strategy](heuristicStrategy{}, "face/heuristic", cfg.Breaker)
	}

	return &Detector{chain: chain}, nil
}

// Analyze implements [detector.FaceDetector]. It never returns an error:
// if every strategy fails the designated unknown result is returned with
// the "error" method tag.
func (d *Detector) Analyze(ctx context.Context, frame media.VideoFrame) detector.FaceStress {
	result, _, err := resilience.Run(d.chain, func(s strategy) (detector.FaceStress, error) {
		return s.classify(ctx, frame)
	})
	if err != nil {
		return detector.FaceStress{
			StressLevel: detector.StressUnknown,
			Emotion:     detector.EmotionUnknown,
			Confidence:  0,
			Method:      detector.MethodError,
		}
	}
	return result
}

// ─── Model strategy ──────────────────────────────────────────────────────────

type modelStrategy struct {
	cls *onnx.Classifier
}

func (m *modelStrategy) classify(_ context.Context, frame media.VideoFrame) (detector.FaceStress, error) {
	logits, err := m.cls.Predict(vision.TensorNCHW(frame.Image, inputSize))
	if err != nil {
		return detector.FaceStress{}, err
	}

	probs := onnx.Softmax(logits)
	idx, p := onnx.Argmax(probs)
	if idx < 0 || idx >= len(emotionClasses) || float64(p) < minClassConfidence {
		return detector.FaceStress{}, resilience.ErrDecline
	}

	emotion := emotionClasses[idx]
	level := detector.StressAbsent
	if stressfulEmotions[emotion] {
		level = detector.StressDetected
	}
	return detector.FaceStress{
		StressLevel:   level,
		Emotion:       emotion,
		FacesDetected: 1,
		Confidence:    float64(p),
		Method:        detector.MethodModel,
	}, nil
}

// ─── Heuristic strategy ──────────────────────────────────────────────────────

// heuristicStrategy approximates face presence with a skin-tone check over
// the centre of the frame and splits stressed/relaxed on luma statistics.
// Dim, high-contrast frames correlate with furrowed, shadowed faces in the
// training captures; it is a coarse rule and is tagged as such.
type heuristicStrategy struct{}

const (
	// minSkinRatio below which no face is assumed present.
	minSkinRatio = 0.08

	// minLumaVariance below which the camera is considered blank/covered.
	minLumaVariance = 1e-4
)

func (heuristicStrategy) classify(_ context.Context, frame media.VideoFrame) (detector.FaceStress, error) {
	center := vision.Region(frame.Image, 0.2, 0.1, 0.6, 0.7)
	stats := vision.Analyze(frame.Image, center)

	if stats.Samples == 0 || stats.LumaVariance < minLumaVariance {
		return detector.FaceStress{}, resilience.ErrDecline
	}
	if stats.SkinRatio < minSkinRatio {
		return detector.FaceStress{
			StressLevel:   detector.StressUnknown,
			Emotion:       detector.EmotionUnknown,
			FacesDetected: 0,
			Confidence:    0,
			Method:        detector.MethodHeuristic,
		}, nil
	}

	level := detector.StressAbsent
	emotion := detector.EmotionNeutral
	if stats.MeanLuma < 0.25 && stats.LumaVariance > 0.03 {
		level = detector.StressDetected
		emotion = detector.EmotionStressed
	}
	return detector.FaceStress{
		StressLevel:   level,
		Emotion:       emotion,
		FacesDetected: 1,
		Confidence:    0.5,
		Method:        detector.MethodHeuristic,
	}, nil
}
