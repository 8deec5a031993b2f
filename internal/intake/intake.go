// Package intake receives media from transport handlers and hands it to the
// per-session scheduler. Producers never block: queues are bounded and drop
// the newest item when full, since for realtime analysis a fresh frame is
// always about to replace whatever could not be queued.
package intake

import (
	"sync"

	"github.com/mkessel/candor/pkg/media"
)

// QueueCapacity bounds each per-session media queue.
const QueueCapacity = 10

// MediaIntake buffers inbound frames and audio chunks for one session.
// All methods are safe for concurrent use.
type MediaIntake struct {
	mu         sync.Mutex
	video      []media.VideoFrame
	audio      []media.AudioChunk
	closed     bool
	videoDrops uint64
	audioDrops uint64
}

// NewMediaIntake creates an intake with empty queues.
func NewMediaIntake() *MediaIntake {
	return &MediaIntake{
		video: make([]media.VideoFrame, 0, QueueCapacity),
		audio: make([]media.AudioChunk, 0, QueueCapacity),
	}
}

// OfferVideo enqueues a frame. It reports false when the frame was dropped
// because the queue is full or the intake is closed.
func (in *MediaIntake) OfferVideo(frame media.VideoFrame) bool {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.closed || len(in.video) >= QueueCapacity {
		in.videoDrops++
		return false
	}
	in.video = append(in.video, frame)
	return true
}

// OfferAudio enqueues an audio chunk. It reports false when the chunk was
// dropped because the queue is full or the intake is closed.
func (in *MediaIntake) OfferAudio(chunk media.AudioChunk) bool {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.closed || len(in.audio) >= QueueCapacity {
		in.audioDrops++
		return false
	}
	in.audio = append(in.audio, chunk)
	return true
}

// DrainLatestVideo removes all queued frames and returns only the most
// recent one. Older frames are discarded: analysing a stale frame tells the
// caller nothing the fresh one does not.
func (in *MediaIntake) DrainLatestVideo() (media.VideoFrame, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if len(in.video) == 0 {
		return media.VideoFrame{}, false
	}
	frame := in.video[len(in.video)-1]
	in.video = in.video[:0]
	return frame, true
}

// DrainAudio removes and returns all queued audio chunks in arrival order.
// Unlike video, every chunk matters: the sliding window needs contiguous
// audio, not just the latest piece.
func (in *MediaIntake) DrainAudio() []media.AudioChunk {
	in.mu.Lock()
	defer in.mu.Unlock()

	if len(in.audio) == 0 {
		return nil
	}
	out := make([]media.AudioChunk, len(in.audio))
	copy(out, in.audio)
	in.audio = in.audio[:0]
	return out
}

// Drops returns the running video and audio drop counts.
func (in *MediaIntake) Drops() (video, audio uint64) {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.videoDrops, in.audioDrops
}

// Close rejects all further offers and releases the queues.
func (in *MediaIntake) Close() {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.closed = true
	in.video = nil
	in.audio = nil
}
