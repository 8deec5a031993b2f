// Package eye implements the eye-gaze confidence detector.
//
// The primary strategy runs a gaze-confidence ONNX classifier on a grayscale
// crop of the eye band. The fallback heuristic scores contrast in the same
// band: steady, open eyes produce a high-contrast region while closed or
// averted eyes flatten it.
package eye

import (
	"context"
	"fmt"

	"github.com/mkessel/candor/internal/resilience"
	"github.com/mkessel/candor/pkg/detector"
	"github.com/mkessel/candor/pkg/detector/onnx"
	"github.com/mkessel/candor/pkg/detector/vision"
	"github.com/mkessel/candor/pkg/media"
)

// inputSize is the side length the gaze model expects.
const inputSize = 64

// gazeClasses is the output head order of the gaze model.
var gazeClasses = []detector.ConfidenceLevel{
	detector.LevelConfident,
	detector.LevelSomewhatConfident,
	detector.LevelNotConfident,
}

const minClassConfidence = 0.4

type strategy interface {
	classify(ctx context.Context, frame media.VideoFrame) (detector.EyeConfidence, error)
}

// Detector implements [detector.EyeDetector] as an ordered strategy chain.
type Detector struct {
	chain *resilience.Chain[strategy]
}

var _ detector.EyeDetector = (*Detector)(nil)

// Config for the eye detector.
type Config struct {
	// ModelPath is the gaze classifier .onnx file. Empty disables the model
	// strategy.
	ModelPath string

	Breaker resilience.BreakerConfig
}

// New constructs the eye detector.
func New(cfg Config) (*Detector, error) {
	var chain *resilience.Chain[strategy]

	if cfg.ModelPath != "" {
		cls, err := onnx.NewClassifier(onnx.ClassifierConfig{
			ModelPath:  cfg.ModelPath,
			InputShape: []int64{1, 1, inputSize, inputSize},
			OutputSize: int64(len(gazeClasses)),
		})
		if err != nil {
			return nil, fmt.Errorf("eye: load model: %w", err)
		}
		chain = resilience.NewChain[strategy](&modelStrategy{cls: cls}, "eye/model", cfg.Breaker)
		chain.AddStrategy("eye/heuristic", heuristicStrategy{})
	} else {
		chain = resilience.NewChain[strategy](heuristicStrategy{}, "eye/heuristic", cfg.Breaker)
	}

	return &Detector{chain: chain}, nil
}

// Analyze implements [detector.EyeDetector].
func (d *Detector) Analyze(ctx context.Context, frame media.VideoFrame) detector.EyeConfidence {
	result, _, err := resilience.Run(d.chain, func(s strategy) (detector.EyeConfidence, error) {
		return s.classify(ctx, frame)
	})
	if err != nil {
		return detector.EyeConfidence{
			ConfidenceLevel: detector.LevelNoEyes,
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

func (m *modelStrategy) classify(_ context.Context, frame media.VideoFrame) (detector.EyeConfidence, error) {
	logits, err := m.cls.Predict(vision.TensorGray(frame.Image, inputSize))
	if err != nil {
		return detector.EyeConfidence{}, err
	}

	probs := onnx.Softmax(logits)
	idx, p := onnx.Argmax(probs)
	if idx < 0 || idx >= len(gazeClasses) || float64(p) < minClassConfidence {
		return detector.EyeConfidence{}, resilience.ErrDecline
	}

	return detector.EyeConfidence{
		ConfidenceLevel: gazeClasses[idx],
		EyesDetected:    2,
		Confidence:      float64(p),
		Method:          detector.MethodModel,
	}, nil
}

// ─── Heuristic strategy ──────────────────────────────────────────────────────

// eyeBand is the horizontal band where eyes sit for a roughly centred,
// head-and-shoulders webcam framing.
var eyeBandRegion = [4]float64{0.25, 0.2, 0.5, 0.2}

type heuristicStrategy struct{}

func (heuristicStrategy) classify(_ context.Context, frame media.VideoFrame) (detector.EyeConfidence, error) {
	band := vision.Region(frame.Image, eyeBandRegion[0], eyeBandRegion[1], eyeBandRegion[2], eyeBandRegion[3])
	stats := vision.Analyze(frame.Image, band)
	if stats.Samples == 0 {
		return detector.EyeConfidence{}, resilience.ErrDecline
	}

	if stats.SkinRatio < 0.05 {
		return detector.EyeConfidence{
			ConfidenceLevel: detector.LevelNoFace,
			EyesDetected:    0,
			Confidence:      0,
			Method:          detector.MethodHeuristic,
		}, nil
	}

	// Open eyes (sclera + iris against skin) lift local contrast; averted or
	// closed eyes flatten the band towards uniform skin tone.
	switch {
	case stats.LumaVariance > 0.02:
		return detector.EyeConfidence{
			ConfidenceLevel: detector.LevelConfident,
			EyesDetected:    2,
			Confidence:      0.6,
			Method:          detector.MethodHeuristic,
		}, nil
	case stats.LumaVariance > 0.008:
		return detector.EyeConfidence{
			ConfidenceLevel: detector.LevelSomewhatConfident,
			EyesDetected:    2,
			Confidence:      0.5,
			Method:          detector.MethodHeuristic,
		}, nil
	default:
		return detector.EyeConfidence{
			ConfidenceLevel: detector.LevelNotConfident,
			EyesDetected:    0,
			Confidence:      0.4,
			Method:          detector.MethodHeuristic,
		}, nil
	}
}
