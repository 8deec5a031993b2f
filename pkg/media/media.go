// Package media defines the value types that flow from socket producers into
// a session's analysis pipeline: decoded video frames, raw PCM audio chunks,
// and the sliding audio windows extracted from them.
//
// Frames and chunks are immutable after construction. Ownership transfers to
// the intake queues on enqueue; producers must not retain or mutate them.
package media

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"strings"
	"time"
)

// VideoFrame is a single decoded RGB frame captured from the candidate's
// camera. Width and height are taken from the decoded image bounds.
type VideoFrame struct {
	// SessionID identifies the session this frame belongs to.
	SessionID string

	// Image is the decoded picture. Always non-nil for a valid frame.
	Image image.Image

	// CapturedAt marks when the frame arrived at the server.
	CapturedAt time.Time
}

// Bounds returns the pixel dimensions of the frame.
func (f VideoFrame) Bounds() (width, height int) {
	b := f.Image.Bounds()
	return b.Dx(), b.Dy()
}

// DecodeFrame decodes a base64-encoded JPEG payload into a VideoFrame.
// Data URI prefixes ("data:image/jpeg;base64,") are tolerated and stripped.
func DecodeFrame(sessionID, b64 string, capturedAt time.Time) (VideoFrame, error) {
	if strings.HasPrefix(b64, "data:") {
		if idx := strings.IndexByte(b64, ','); idx >= 0 {
			b64 = b64[idx+1:]
		}
	}
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return VideoFrame{}, fmt.Errorf("media: decode frame base64: %w", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(raw))
	if err != nil {
		return VideoFrame{}, fmt.Errorf("media: decode frame jpeg: %w", err)
	}
	return VideoFrame{SessionID: sessionID, Image: img, CapturedAt: capturedAt}, nil
}

// AudioChunk is a short run of float32 mono PCM samples as delivered by the
// client in a single audio_data event.
type AudioChunk struct {
	// SessionID identifies the session this chunk belongs to.
	SessionID string

	// Samples is mono float32 PCM in [-1, 1].
	Samples []float32

	// SampleRate in Hz (e.g. 22050, 44100).
	SampleRate int

	// ArrivedAt marks when the chunk reached the server. Window eviction is
	// keyed off arrival time, not any client-side timestamp.
	ArrivedAt time.Time
}

// Duration returns the playback duration of the chunk.
func (c AudioChunk) Duration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(len(c.Samples)) / float64(c.SampleRate) * float64(time.Second))
}

// Valid reports whether the chunk carries playable PCM.
func (c AudioChunk) Valid() bool {
	return len(c.Samples) > 0 && c.SampleRate > 0
}

// AudioWindow is the concatenation of every buffered chunk whose arrival time
// falls inside the configured window. Windows are produced on demand and
// never mutated afterwards.
type AudioWindow struct {
	// Samples is the concatenated mono PCM.
	Samples []float32

	// SampleRate in Hz. When buffered chunks disagree, the most recent
	// chunk's rate wins and older chunks are excluded.
	SampleRate int

	// Start and End bound the arrival times of the included chunks.
	Start time.Time
	End   time.Time
}

// Empty reports whether the window holds no audio.
func (w AudioWindow) Empty() bool { return len(w.Samples) == 0 }

// Duration returns the playback duration of the window.
func (w AudioWindow) Duration() time.Duration {
	if w.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(len(w.Samples)) / float64(w.SampleRate) * float64(time.Second))
}
