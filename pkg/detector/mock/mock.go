// Package mock provides in-memory detector doubles for tests. Each mock
// returns its Result field, or calls Fn when set, and records every input it
// receives. All mocks are safe for concurrent use.
package mock

import (
	"context"
	"sync"

	"github.com/mkessel/candor/pkg/detector"
	"github.com/mkessel/candor/pkg/media"
)

// FaceDetector is a test double for [detector.FaceDetector].
type FaceDetector struct {
	mu     sync.Mutex
	calls  []media.VideoFrame
	Result detector.FaceStress
	Fn     func(frame media.VideoFrame) detector.FaceStress
}

func (m *FaceDetector) Analyze(_ context.Context, frame media.VideoFrame) detector.FaceStress {
	m.mu.Lock()
	m.calls = append(m.calls, frame)
	m.mu.Unlock()
	if m.Fn != nil {
		return m.Fn(frame)
	}
	return m.Result
}

// Calls returns a copy of the recorded inputs.
func (m *FaceDetector) Calls() []media.VideoFrame {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]media.VideoFrame, len(m.calls))
	copy(out, m.calls)
	return out
}

// EyeDetector is a test double for [detector.EyeDetector].
type EyeDetector struct {
	mu     sync.Mutex
	calls  []media.VideoFrame
	Result detector.EyeConfidence
	Fn     func(frame media.VideoFrame) detector.EyeConfidence
}

func (m *EyeDetector) Analyze(_ context.Context, frame media.VideoFrame) detector.EyeConfidence {
	m.mu.Lock()
	m.calls = append(m.calls, frame)
	m.mu.Unlock()
	if m.Fn != nil {
		return m.Fn(frame)
	}
	return m.Result
}

func (m *EyeDetector) Calls() []media.VideoFrame {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]media.VideoFrame, len(m.calls))
	copy(out, m.calls)
	return out
}

// HandDetector is a test double for [detector.HandDetector].
type HandDetector struct {
	mu     sync.Mutex
	calls  []media.VideoFrame
	Result detector.HandConfidence
	Fn     func(frame media.VideoFrame) detector.HandConfidence
}

func (m *HandDetector) Analyze(_ context.Context, frame media.VideoFrame) detector.HandConfidence {
	m.mu.Lock()
	m.calls = append(m.calls, frame)
	m.mu.Unlock()
	if m.Fn != nil {
		return m.Fn(frame)
	}
	return m.Result
}

func (m *HandDetector) Calls() []media.VideoFrame {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]media.VideoFrame, len(m.calls))
	copy(out, m.calls)
	return out
}

// VoiceDetector is a test double for [detector.VoiceDetector].
type VoiceDetector struct {
	mu     sync.Mutex
	calls  []media.AudioWindow
	Result detector.VoiceConfidence
	Fn     func(window media.AudioWindow) detector.VoiceConfidence
}

func (m *VoiceDetector) Analyze(_ context.Context, window media.AudioWindow) detector.VoiceConfidence {
	m.mu.Lock()
	m.calls = append(m.calls, window)
	m.mu.Unlock()
	if m.Fn != nil {
		return m.Fn(window)
	}
	return m.Result
}

func (m *VoiceDetector) Calls() []media.AudioWindow {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]media.AudioWindow, len(m.calls))
	copy(out, m.calls)
	return out
}

// Compile-time interface checks.
var (
	_ detector.FaceDetector  = (*FaceDetector)(nil)
	_ detector.EyeDetector   = (*EyeDetector)(nil)
	_ detector.HandDetector  = (*HandDetector)(nil)
	_ detector.VoiceDetector = (*VoiceDetector)(nil)
)
