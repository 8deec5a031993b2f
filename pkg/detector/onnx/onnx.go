// Package onnx wraps the ONNX Runtime with a small classifier abstraction
// used by the model-based detector strategies.
//
// One [Classifier] owns one loaded model plus its pre-allocated input and
// output tensors. Tensor reuse means Predict must be serialised per
// classifier; a mutex handles that, and a process-wide semaphore (see
// [SetMaxConcurrent]) bounds total concurrent runs across all classifiers.
package onnx

import (
	"context"
	"fmt"
	"math"
	"sync"

	"golang.org/x/sync/semaphore"

	ort "github.com/yalue/onnxruntime_go"
)

var (
	initOnce sync.Once
	initErr  error
)

var (
	semMu sync.Mutex
	sem   = semaphore.NewWeighted(2)
)

// SetMaxConcurrent bounds concurrent [Classifier.Predict] calls process-wide.
// Call before serving traffic; runs in flight under the previous limit keep
// their slots. Values below 1 are clamped to 1.
func SetMaxConcurrent(n int64) {
	if n < 1 {
		n = 1
	}
	semMu.Lock()
	sem = semaphore.NewWeighted(n)
	semMu.Unlock()
}

func acquireSlot() *semaphore.Weighted {
	semMu.Lock()
	s := sem
	semMu.Unlock()
	// Acquire on Background never returns an error.
	_ = s.Acquire(context.Background(), 1)
	return s
}

// InitRuntime loads the ONNX Runtime shared library and initialises the
// environment. Safe to call multiple times; only the first call does work.
// libPath may be empty if the library is on the default search path.
func InitRuntime(libPath string) error {
	initOnce.Do(func() {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		initErr = ort.InitializeEnvironment()
	})
	return initErr
}

// ShutdownRuntime destroys the ONNX environment. Call once at process exit,
// after all classifiers are closed.
func ShutdownRuntime() error {
	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}

// ClassifierConfig describes the model a [Classifier] loads.
type ClassifierConfig struct {
	// ModelPath is the .onnx file to load.
	ModelPath string

	// InputShape is the full input tensor shape including the leading batch
	// dimension, e.g. [1, 3, 224, 224] for an NCHW image model.
	InputShape []int64

	// OutputSize is the number of output values (e.g. class count).
	OutputSize int64
}

// Classifier runs a single ONNX model with fixed input/output shapes.
type Classifier struct {
	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	inLen   int
	closed  bool
}

// NewClassifier loads the model at cfg.ModelPath and allocates its tensors.
// InitRuntime must have succeeded first.
func NewClassifier(cfg ClassifierConfig) (*Classifier, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("onnx: model path is empty")
	}
	inLen := int64(1)
	for _, d := range cfg.InputShape {
		inLen *= d
	}

	input, err := ort.NewEmptyTensor[float32](ort.NewShape(cfg.InputShape...))
	if err != nil {
		return nil, fmt.Errorf("onnx: create input tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, cfg.OutputSize))
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("onnx: create output tensor: %w", err)
	}

	inInfo, outInfo, err := ort.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("onnx: inspect model %q: %w", cfg.ModelPath, err)
	}
	if len(inInfo) == 0 || len(outInfo) == 0 {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("onnx: model %q has no inputs or outputs", cfg.ModelPath)
	}

	session, err := ort.NewAdvancedSession(
		cfg.ModelPath,
		[]string{inInfo[0].Name}, []string{outInfo[0].Name},
		[]ort.Value{input}, []ort.Value{output},
		nil,
	)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("onnx: create session for %q: %w", cfg.ModelPath, err)
	}

	return &Classifier{
		session: session,
		input:   input,
		output:  output,
		inLen:   int(inLen),
	}, nil
}

// Predict copies data into the input tensor, runs the model, and returns a
// copy of the output values. len(data) must equal the input shape's element
// count.
func (c *Classifier) Predict(data []float32) ([]float32, error) {
	s := acquireSlot()
	defer s.Release(1)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, fmt.Errorf("onnx: classifier is closed")
	}
	if len(data) != c.inLen {
		return nil, fmt.Errorf("onnx: input length %d, want %d", len(data), c.inLen)
	}

	copy(c.input.GetData(), data)
	if err := c.session.Run(); err != nil {
		return nil, fmt.Errorf("onnx: run: %w", err)
	}

	out := c.output.GetData()
	result := make([]float32, len(out))
	copy(result, out)
	return result, nil
}

// Close releases the session and tensors. Safe to call multiple times.
func (c *Classifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.session.Destroy()
	c.input.Destroy()
	c.output.Destroy()
	return nil
}

// Softmax converts raw logits to probabilities in place-safe fashion,
// returning a new slice. Uses the max-subtraction trick for stability.
func Softmax(logits []float32) []float32 {
	if len(logits) == 0 {
		return nil
	}
	maxv := logits[0]
	for _, v := range logits[1:] {
		if v > maxv {
			maxv = v
		}
	}
	out := make([]float32, len(logits))
	var sum float64
	for i, v := range logits {
		e := math.Exp(float64(v - maxv))
		out[i] = float32(e)
		sum += e
	}
	if sum == 0 {
		return out
	}
	for i := range out {
		out[i] = float32(float64(out[i]) / sum)
	}
	return out
}

// Argmax returns the index and value of the largest element.
func Argmax(values []float32) (int, float32) {
	if len(values) == 0 {
		return -1, 0
	}
	best, bestV := 0, values[0]
	for i, v := range values[1:] {
		if v > bestV {
			best, bestV = i+1, v
		}
	}
	return best, bestV
}
