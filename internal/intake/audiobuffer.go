package intake

import (
	"sync"
	"time"

	"github.com/mkessel/candor/pkg/media"
)

// WindowLength is the sliding window the voice detector analyses.
const WindowLength = 5 * time.Second

// AudioBuffer maintains the most recent [WindowLength] of audio for one
// session. Chunks older than the window are evicted on every append, and
// survivors are copied to a fresh backing array so evicted audio does not pin
// memory for the lifetime of the session.
//
// All methods are safe for concurrent use.
type AudioBuffer struct {
	mu     sync.Mutex
	chunks []media.AudioChunk

	// startedAt is the arrival time of the first chunk ever appended; the
	// scheduler anchors the voice cadence to it. Zero until audio arrives.
	startedAt time.Time

	// lastAppend is the arrival time of the most recent chunk.
	lastAppend time.Time
}

// NewAudioBuffer creates an empty buffer.
func NewAudioBuffer() *AudioBuffer {
	return &AudioBuffer{}
}

// Append adds a chunk and evicts everything older than [WindowLength]
// relative to the newest arrival. Invalid chunks (no samples or a
// non-positive rate) are ignored.
func (b *AudioBuffer) Append(chunk media.AudioChunk) {
	if !chunk.Valid() {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.startedAt.IsZero() {
		b.startedAt = chunk.ArrivedAt
	}
	b.lastAppend = chunk.ArrivedAt
	b.chunks = append(b.chunks, chunk)
	b.evict(chunk.ArrivedAt)
}

// evict drops chunks older than the window. Must be called with b.mu held.
func (b *AudioBuffer) evict(now time.Time) {
	cutoff := now.Add(-WindowLength)

	start := 0
	for start < len(b.chunks) && b.chunks[start].ArrivedAt.Before(cutoff) {
		start++
	}
	if start == 0 {
		return
	}

	fresh := make([]media.AudioChunk, len(b.chunks)-start)
	copy(fresh, b.chunks[start:])
	b.chunks = fresh
}

// Window assembles the buffered chunks into one [media.AudioWindow]. When
// chunks disagree on sample rate the most recent chunk's rate wins and older
// chunks at any other rate are excluded. An empty buffer yields an empty
// window.
func (b *AudioBuffer) Window() media.AudioWindow {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.chunks) == 0 {
		return media.AudioWindow{}
	}
	rate := b.chunks[len(b.chunks)-1].SampleRate

	total := 0
	for _, c := range b.chunks {
		if c.SampleRate == rate {
			total += len(c.Samples)
		}
	}
	samples := make([]float32, 0, total)
	var start time.Time
	for _, c := range b.chunks {
		if c.SampleRate != rate {
			continue
		}
		if start.IsZero() {
			start = c.ArrivedAt
		}
		samples = append(samples, c.Samples...)
	}

	return media.AudioWindow{
		Samples:    samples,
		SampleRate: rate,
		Start:      start,
		End:        b.chunks[len(b.chunks)-1].ArrivedAt,
	}
}

// StartedAt returns the arrival time of the first chunk, or zero when no
// audio has ever arrived.
func (b *AudioBuffer) StartedAt() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.startedAt
}

// LastAppend returns the arrival time of the most recent chunk, or zero.
func (b *AudioBuffer) LastAppend() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastAppend
}

// Clear empties the buffer. The cadence anchor and last-append time survive
// so an inactivity flush does not restart the voice schedule.
func (b *AudioBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chunks = nil
}

// Len returns the buffered chunk count.
func (b *AudioBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.chunks)
}
