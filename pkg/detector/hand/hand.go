// Package hand implements the hand-pose confidence detector.
//
// The primary strategy runs a gesture ONNX classifier over the full frame
// and derives a confidence level from the recognised gesture. The fallback
// heuristic looks for skin-tone mass in the lower corners of the frame where
// hands appear in a seated interview framing.
package hand

import (
	"context"
	"fmt"

	"github.com/mkessel/candor/internal/resilience"
	"github.com/mkessel/candor/pkg/detector"
	"github.com/mkessel/candor/pkg/detector/onnx"
	"github.com/mkessel/candor/pkg/detector/vision"
	"github.com/mkessel/candor/pkg/media"
)

const inputSize = 224

// gestureClasses is the output head order of the gesture model.
var gestureClasses = []string{
	"open_palm",
	"pointing",
	"thumbs_up",
	"fist",
	"crossed_arms",
	"face_touch",
	"none",
}

// confidentGestures maps gestures to whether they read as a confident pose.
// Closed/defensive gestures do not.
var confidentGestures = map[string]bool{
	"open_palm": true,
	"pointing":  true,
	"thumbs_up": true,
}

const minClassConfidence = 0.4

type strategy interface {
	classify(ctx context.Context, frame media.VideoFrame) (detector.HandConfidence, error)
}

// Detector implements [detector.HandDetector] as an ordered strategy chain.
type Detector struct {
	chain *resilience.Chain[strategy]
}

var _ detector.HandDetector = (*Detector)(nil)

// Config for the hand detector.
type Config struct {
	// ModelPath is the gesture classifier .onnx file. Empty disables the
	// model strategy.
	ModelPath string

	Breaker resilience.BreakerConfig
}

// New constructs the hand detector.
func New(cfg Config) (*Detector, error) {
	var chain *resilience.Chain[strategy]

	if cfg.ModelPath != "" {
		cls, err := onnx.NewClassifier(onnx.ClassifierConfig{
			ModelPath:  cfg.ModelPath,
			InputShape: []int64{1, 3, inputSize, inputSize},
			OutputSize: int64(len(gestureClasses)),
		})
		if err != nil {
			return nil, fmt.Errorf("hand: load model: %w", err)
		}
		chain = resilience.NewChain[strategy](&modelStrategy{cls: cls}, "hand/model", cfg.Breaker)
		chain.AddStrategy("hand/heuristic", heuristicStrategy{})
	} else {
		chain = resilience.NewChain[strategy](heuristicStrategy{}, "hand/heuristic", cfg.Breaker)
	}

	return &Detector{chain: chain}, nil
}

// Analyze implements [detector.HandDetector].
func (d *Detector) Analyze(ctx context.Context, frame media.VideoFrame) detector.HandConfidence {
	result, _, err := resilience.Run(d.chain, func(s strategy) (detector.HandConfidence, error) {
		return s.classify(ctx, frame)
	})
	if err != nil {
		return detector.HandConfidence{
			ConfidenceLevel: detector.LevelNoHands,
			Confidence:      0,
			Method:          detector.MethodError,
		}
	}
	return result
}

// ─── Model strategy ──────────────────────────────────────────────────────────

type modelStrategy struct {
	cls *onnx.Classifier
}

func (m *modelStrategy) classify(_ context.Context, frame media.VideoFrame) (detector.HandConfidence, error) {
	logits, err := m.cls.Predict(vision.TensorNCHW(frame.Image, inputSize))
	if err != nil {
		return detector.HandConfidence{}, err
	}

	probs := onnx.Softmax(logits)
	idx, p := onnx.Argmax(probs)
	if idx < 0 || idx >= len(gestureClasses) || float64(p) < minClassConfidence {
		return detector.HandConfidence{}, resilience.ErrDecline
	}

	gesture := gestureClasses[idx]
	if gesture == "none" {
		return detector.HandConfidence{
			ConfidenceLevel: detector.LevelNoHands,
			HandsDetected:   0,
			Confidence:      float64(p),
			Method:          detector.MethodModel,
		}, nil
	}

	level := detector.LevelNotConfident
	if confidentGestures[gesture] {
		level = detector.LevelConfident
	}
	return detector.HandConfidence{
		ConfidenceLevel: level,
		HandsDetected:   1,
		Gestures:        []string{gesture},
		Confidence:      float64(p),
		Method:          detector.MethodModel,
	}, nil
}

// ─── Heuristic strategy ──────────────────────────────────────────────────────

type heuristicStrategy struct{}

func (heuristicStrategy) classify(_ context.Context, frame media.VideoFrame) (detector.HandConfidence, error) {
	left := vision.Analyze(frame.Image, vision.Region(frame.Image, 0, 0.6, 0.35, 0.4))
	right := vision.Analyze(frame.Image, vision.Region(frame.Image, 0.65, 0.6, 0.35, 0.4))
	if left.Samples == 0 && right.Samples == 0 {
		return detector.HandConfidence{}, resilience.ErrDecline
	}

	hands := 0
	if left.SkinRatio > 0.12 {
		hands++
	}
	if right.SkinRatio > 0.12 {
		hands++
	}

	switch hands {
	case 0:
		return detector.HandConfidence{
			ConfidenceLevel: detector.LevelNoHands,
			HandsDetected:   0,
			Confidence:      0.4,
			Method:          detector.MethodHeuristic,
		}, nil
	case 1:
		return detector.HandConfidence{
			ConfidenceLevel: detector.LevelSomewhatConfident,
			HandsDetected:   1,
			Confidence:      0.5,
			Method:          detector.MethodHeuristic,
		}, nil
	default:
		// Both hands visible and apart reads as an open, engaged posture.
		return detector.HandConfidence{
			ConfidenceLevel: detector.LevelConfident,
			HandsDetected:   2,
			Gestures:        []string{"open_palm"},
			Confidence:      0.6,
			Method:          detector.MethodHeuristic,
		}, nil
	}
}
