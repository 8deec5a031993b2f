// Package voice implements the vocal-emotion confidence detector.
//
// The primary strategy feeds a spectral feature vector into a pretrained
// speech-emotion ONNX classifier (RAVDESS-style eight-class head). The
// fallback heuristic classifies on energy and spectral shape alone: loud,
// bright, choppy audio reads as agitated; moderate, steady audio as calm.
package voice

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/mkessel/candor/internal/resilience"
	"github.com/mkessel/candor/pkg/detector"
	"github.com/mkessel/candor/pkg/detector/onnx"
	"github.com/mkessel/candor/pkg/media"
)

// featureDim is the classifier input width: spectralBands log-energy bins
// followed by the scalar features appended by appendScalars.
const (
	spectralBands = 120
	scalarCount   = 8
	featureDim    = spectralBands + scalarCount
)

// emotionClasses is the output head order of the bundled emotion model.
var emotionClasses = []string{
	detector.EmotionNeutral,
	detector.EmotionCalm,
	detector.EmotionHappy,
	detector.EmotionSad,
	detector.EmotionAngry,
	detector.EmotionFearful,
	detector.EmotionDisgust,
	"surprised",
}

const minClassConfidence = 0.3

type strategy interface {
	classify(ctx context.Context, window media.AudioWindow) (detector.VoiceConfidence, error)
}

// Detector implements [detector.VoiceDetector] as an ordered strategy chain.
type Detector struct {
	chain *resilience.Chain[strategy]
}

var _ detector.VoiceDetector = (*Detector)(nil)

// Config for the voice detector.
type Config struct {
	// ModelPath is the emotion classifier .onnx file. Empty disables the
	// model strategy.
	ModelPath string

	Breaker resilience.BreakerConfig
}

// New constructs the voice detector.
func New(cfg Config) (*Detector, error) {
	var chain *resilience.Chain[strategy]

	if cfg.ModelPath != "" {
		cls, err := onnx.NewClassifier(onnx.ClassifierConfig{
			ModelPath:  cfg.ModelPath,
			InputShape: []int64{1, featureDim},
			OutputSize: int64(len(emotionClasses)),
		})
		if err != nil {
			return nil, fmt.Errorf("voice: load model: %w", err)
		}
		chain = resilience.NewChain[strategy](&modelStrategy{cls: cls}, "voice/pretrained", cfg.Breaker)
		chain.AddStrategy("voice/heuristic", heuristicStrategy{})
	} else {
		chain = resilience.NewChain[strategy](heuristicStrategy{}, "voice/heuristic", cfg.Breaker)
	}

	return &Detector{chain: chain}, nil
}

// Analyze implements [detector.VoiceDetector]. An empty window maps straight
// to the no_audio result without running any strategy.
func (d *Detector) Analyze(ctx context.Context, window media.AudioWindow) detector.VoiceConfidence {
	if window.Empty() {
		return detector.VoiceConfidence{
			ConfidenceLevel: detector.LevelNoAudio,
			Emotion:         detector.EmotionNoAudio,
			Confidence:      0,
			Method:          detector.MethodNone,
		}
	}

	result, _, err := resilience.Run(d.chain, func(s strategy) (detector.VoiceConfidence, error) {
		return s.classify(ctx, window)
	})
	if err != nil {
		return detector.VoiceConfidence{
			ConfidenceLevel: detector.LevelUnknown,
			Emotion:         detector.EmotionUnknown,
			Confidence:      0,
			Method:          detector.MethodError,
		}
	}
	return result
}

// levelForEmotion maps a predicted emotion onto a confidence level.
func levelForEmotion(emotion string) detector.ConfidenceLevel {
	switch {
	case detector.GoodEmotions[emotion]:
		return detector.LevelConfident
	case detector.BadEmotions[emotion]:
		return detector.LevelNotConfident
	default:
		return detector.LevelSomewhatConfident
	}
}

// ─── Model strategy ──────────────────────────────────────────────────────────

type modelStrategy struct {
	cls *onnx.Classifier
}

func (m *modelStrategy) classify(_ context.Context, window media.AudioWindow) (detector.VoiceConfidence, error) {
	feats := Features(window)
	logits, err := m.cls.Predict(feats.Vector())
	if err != nil {
		return detector.VoiceConfidence{}, err
	}

	probs := onnx.Softmax(logits)
	idx, p := onnx.Argmax(probs)
	if idx < 0 || idx >= len(emotionClasses) || float64(p) < minClassConfidence {
		return detector.VoiceConfidence{}, resilience.ErrDecline
	}

	emotion := emotionClasses[idx]
	return detector.VoiceConfidence{
		ConfidenceLevel: levelForEmotion(emotion),
		Emotion:         emotion,
		Confidence:      float64(p),
		Method:          detector.MethodModel,
	}, nil
}

// ─── Heuristic strategy ──────────────────────────────────────────────────────

type heuristicStrategy struct{}

// Threshold constants for the energy/spectral rules. Centroid is expressed
// as a fraction of Nyquist.
const (
	quietRMS      = 0.01
	loudRMS       = 0.12
	brightSpectre = 0.35
	choppyZCR     = 0.18
)

func (heuristicStrategy) classify(_ context.Context, window media.AudioWindow) (detector.VoiceConfidence, error) {
	f := Features(window)

	var emotion string
	var conf float64
	switch {
	case f.RMS < quietRMS:
		// Barely audible speech: hesitant rather than calm.
		emotion = detector.EmotionSad
		conf = 0.4
	case f.RMS > loudRMS && f.Centroid > brightSpectre:
		emotion = detector.EmotionAngry
		conf = 0.55
	case f.ZCR > choppyZCR:
		emotion = detector.EmotionFearful
		conf = 0.45
	case f.RMS < loudRMS/2:
		emotion = detector.EmotionCalm
		conf = 0.55
	default:
		emotion = detector.EmotionNeutral
		conf = 0.5
	}

	return detector.VoiceConfidence{
		ConfidenceLevel: levelForEmotion(emotion),
		Emotion:         emotion,
		Confidence:      conf,
		Method:          detector.MethodHeuristic,
	}, nil
}

// ─── Feature extraction ──────────────────────────────────────────────────────

// FeatureSet is the spectral summary of one audio window.
type FeatureSet struct {
	// Bands holds spectralBands log-power bins spanning DC to Nyquist.
	Bands [spectralBands]float32

	// RMS is the root-mean-square amplitude of the window.
	RMS float64

	// ZCR is the zero-crossing rate (crossings per sample).
	ZCR float64

	// Centroid is the spectral centroid as a fraction of Nyquist.
	Centroid float64

	// Rolloff is the frequency (fraction of Nyquist) below which 85% of
	// spectral energy sits.
	Rolloff float64

	// Flatness is the geometric/arithmetic spectral mean ratio.
	Flatness float64

	// EnergyVar is the variance of short-block energies, a crude prosody
	// measure.
	EnergyVar float64

	// Duration is the window length in seconds.
	Duration float64
}

// Features computes the [FeatureSet] for a window. The FFT length is the
// largest power of two not exceeding the sample count, capped at 16384.
func Features(window media.AudioWindow) FeatureSet {
	var fs FeatureSet
	samples := window.Samples
	if len(samples) == 0 {
		return fs
	}

	// Time-domain features.
	var sumSq float64
	crossings := 0
	for i, s := range samples {
		sumSq += float64(s) * float64(s)
		if i > 0 && (s >= 0) != (samples[i-1] >= 0) {
			crossings++
		}
	}
	fs.RMS = math.Sqrt(sumSq / float64(len(samples)))
	fs.ZCR = float64(crossings) / float64(len(samples))
	fs.Duration = window.Duration().Seconds()

	// Short-block energy variance (64 ms blocks at the window's rate).
	block := window.SampleRate / 16
	if block > 0 {
		var energies []float64
		for start := 0; start+block <= len(samples); start += block {
			var e float64
			for _, s := range samples[start : start+block] {
				e += float64(s) * float64(s)
			}
			energies = append(energies, e/float64(block))
		}
		if len(energies) > 1 {
			mean := 0.0
			for _, e := range energies {
				mean += e
			}
			mean /= float64(len(energies))
			for _, e := range energies {
				fs.EnergyVar += (e - mean) * (e - mean)
			}
			fs.EnergyVar /= float64(len(energies) - 1)
		}
	}

	// Spectrum.
	n := 1
	for n*2 <= len(samples) && n*2 <= 16384 {
		n *= 2
	}
	if n < 2 {
		return fs
	}
	fft := fourier.NewFFT(n)
	in := make([]float64, n)
	for i := 0; i < n; i++ {
		// Hann window over the most recent n samples.
		s := float64(samples[len(samples)-n+i])
		w := 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
		in[i] = s * w
	}
	spectrum := fft.Coefficients(nil, in)

	power := make([]float64, len(spectrum))
	var total float64
	for i, c := range spectrum {
		p := real(c)*real(c) + imag(c)*imag(c)
		power[i] = p
		total += p
	}

	if total > 0 {
		// Centroid and rolloff over normalised bin positions.
		var weighted, cumulative float64
		rolloffDone := false
		for i, p := range power {
			pos := float64(i) / float64(len(power)-1)
			weighted += pos * p
			cumulative += p
			if !rolloffDone && cumulative >= 0.85*total {
				fs.Rolloff = pos
				rolloffDone = true
			}
		}
		fs.Centroid = weighted / total

		// Spectral flatness.
		var logSum float64
		for _, p := range power {
			logSum += math.Log(p + 1e-12)
		}
		geoMean := math.Exp(logSum / float64(len(power)))
		fs.Flatness = geoMean / (total / float64(len(power)))
	}

	// Log-power bands.
	binsPerBand := float64(len(power)) / spectralBands
	for b := 0; b < spectralBands; b++ {
		lo := int(float64(b) * binsPerBand)
		hi := int(float64(b+1) * binsPerBand)
		if hi <= lo {
			hi = lo + 1
		}
		if hi > len(power) {
			hi = len(power)
		}
		var e float64
		for _, p := range power[lo:hi] {
			e += p
		}
		fs.Bands[b] = float32(math.Log1p(e))
	}

	return fs
}

// Vector flattens the feature set into the classifier's input layout.
func (fs FeatureSet) Vector() []float32 {
	out := make([]float32, 0, featureDim)
	out = append(out, fs.Bands[:]...)
	out = append(out,
		float32(fs.RMS),
		float32(fs.ZCR),
		float32(fs.Centroid),
		float32(fs.Rolloff),
		float32(fs.Flatness),
		float32(fs.EnergyVar),
		float32(fs.Duration),
		float32(0), // reserved
	)
	return out
}
