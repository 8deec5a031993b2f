package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mkessel/candor/internal/intake"
	"github.com/mkessel/candor/internal/observe"
	"github.com/mkessel/candor/pkg/analysis"
	"github.com/mkessel/candor/pkg/detector"
	"github.com/mkessel/candor/pkg/media"
)

// State is the scheduler lifecycle state.
type State string

const (
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
)

// Timing holds the cadence parameters of the scheduler loop. Tests shrink
// these to run scenarios in milliseconds; production uses [DefaultTiming].
type Timing struct {
	// Composite is the emission cadence: at most one sample per interval.
	Composite time.Duration

	// Voice is the audio-analysis cadence, anchored at the first audio
	// arrival.
	Voice time.Duration

	// Poll is the loop wake-up step.
	Poll time.Duration

	// InactivityFlush is how long after the last audio arrival a non-empty
	// buffer is analysed once more and cleared.
	InactivityFlush time.Duration

	// NoAudioAfter is how long without any audio before the voice modality
	// is declared no_audio.
	NoAudioAfter time.Duration

	// StopTimeout bounds Stop including the final flush.
	StopTimeout time.Duration
}

// DefaultTiming returns the production cadences.
func DefaultTiming() Timing {
	return Timing{
		Composite:       10 * time.Second,
		Voice:           5 * time.Second,
		Poll:            500 * time.Millisecond,
		InactivityFlush: 2 * time.Second,
		NoAudioAfter:    5 * time.Second,
		StopTimeout:     2 * time.Second,
	}
}

// Scheduler drives one session's analysis loop: it pulls media from its
// intake, dispatches detectors on the rotation and cadence rules, and emits
// one canonical sample per composite tick. It exclusively owns its
// [intake.MediaIntake] and [intake.AudioBuffer]; producers reach them only
// through offerVideo/offerAudio.
type Scheduler struct {
	id      Identity
	timing  Timing
	intake  *intake.MediaIntake
	audio   *intake.AudioBuffer
	det     detector.Set
	emitter *Emitter
	metrics *observe.Metrics
	log     *slog.Logger

	// onFatal is invoked (on its own goroutine) when a tick panics, so the
	// manager can drop the session from its registry.
	onFatal func(sessionID string)

	cancel context.CancelFunc
	done   chan struct{}

	// inFlight is the single-flight guard: late ticks are skipped, never
	// queued.
	inFlight atomic.Bool

	// firstAudioAt/lastAudioAt hold unix nanos of audio arrivals; zero means
	// never. Updated on every offer, even ones the queue drops.
	firstAudioAt atomic.Int64
	lastAudioAt  atomic.Int64

	mu              sync.Mutex
	state           State
	startedAt       time.Time
	face            FaceState
	eye             EyeState
	hand            HandState
	voice           VoiceState
	cycle           int
	voiceRuns       int
	lastCompositeAt time.Time
	lastEmitAt      time.Time
	samplesEmitted  int
	lastSample      analysis.Sample
	hasSample       bool
}

func newScheduler(id Identity, timing Timing, det detector.Set, emitter *Emitter, metrics *observe.Metrics, log *slog.Logger) *Scheduler {
	return &Scheduler{
		id:      id,
		timing:  timing,
		intake:  intake.NewMediaIntake(),
		audio:   intake.NewAudioBuffer(),
		det:     det,
		emitter: emitter,
		metrics: metrics,
		log:     log.With(slog.String("session_id", id.SessionID)),
		state:   StateStarting,
		done:    make(chan struct{}),
	}
}

// start transitions to Running and spawns the loop goroutine.
func (s *Scheduler) start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	now := time.Now()
	s.mu.Lock()
	s.state = StateRunning
	s.startedAt = now
	s.lastCompositeAt = now
	s.mu.Unlock()

	go s.run(ctx)
}

// stop requests cancellation and waits up to the stop timeout for the final
// flush. It reports whether the loop exited in time; either way the caller
// must treat the session as gone.
func (s *Scheduler) stop() bool {
	s.mu.Lock()
	if s.state == StateStopped || s.state == StateStopping {
		s.mu.Unlock()
		<-s.done
		return true
	}
	s.state = StateStopping
	s.mu.Unlock()

	s.cancel()
	select {
	case <-s.done:
		return true
	case <-time.After(s.timing.StopTimeout):
		// Abandoned: the goroutine finishes on its own, unreachable via the
		// registry.
		return false
	}
}

func (s *Scheduler) offerVideo(frame media.VideoFrame) {
	if !s.intake.OfferVideo(frame) {
		s.metrics.RecordIntakeDrop(context.Background(), "video")
	}
}

func (s *Scheduler) offerAudio(chunk media.AudioChunk) {
	nano := chunk.ArrivedAt.UnixNano()
	s.firstAudioAt.CompareAndSwap(0, nano)
	s.lastAudioAt.Store(nano)
	if !s.intake.OfferAudio(chunk) {
		s.metrics.RecordIntakeDrop(context.Background(), "audio")
	}
}

// ─── Loop ────────────────────────────────────────────────────────────────────

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)
	defer s.intake.Close()

	ticker := time.NewTicker(s.timing.Poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if s.currentState() != StateStopped {
				s.finalFlush()
				s.setState(StateStopped)
			}
			return
		case <-ticker.C:
			now := time.Now()
			switch {
			case s.compositeDue(now):
				s.safeTick(ctx, now)
			case s.inactivityFlushDue(now):
				s.safeVoiceFlush(ctx, now)
			}
		}
	}
}

func (s *Scheduler) compositeDue(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastCompositeAt) >= s.timing.Composite
}

func (s *Scheduler) inactivityFlushDue(now time.Time) bool {
	last := s.lastAudioAt.Load()
	return s.audio.Len() > 0 && last > 0 &&
		now.Sub(time.Unix(0, last)) > s.timing.InactivityFlush
}

// safeTick runs one composite tick under the single-flight guard with panic
// recovery.
func (s *Scheduler) safeTick(ctx context.Context, now time.Time) {
	if !s.inFlight.CompareAndSwap(false, true) {
		return
	}
	defer s.inFlight.Store(false)
	defer s.recoverFatal()

	s.tick(ctx, now)
}

// safeVoiceFlush handles an early wake-up for audio inactivity: analyse the
// remaining buffer once and clear it. Does not emit — emission stays on the
// composite cadence.
func (s *Scheduler) safeVoiceFlush(ctx context.Context, now time.Time) {
	if !s.inFlight.CompareAndSwap(false, true) {
		return
	}
	defer s.inFlight.Store(false)
	defer s.recoverFatal()

	for _, chunk := range s.intake.DrainAudio() {
		s.audio.Append(chunk)
	}
	if s.audio.Len() == 0 {
		return
	}
	s.runVoice(ctx, now)
	s.audio.Clear()
}

// tick is one composite cycle: visual rotation, audio drain, voice cadence,
// canonicalise, emit.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	tickStart := time.Now()
	ctx, span := observe.StartSpan(ctx, "session.composite_tick",
		trace.WithAttributes(attribute.String("session_id", s.id.SessionID)))
	defer span.End()

	if frame, ok := s.intake.DrainLatestVideo(); ok {
		s.runVisual(ctx, frame)
	}

	for _, chunk := range s.intake.DrainAudio() {
		s.audio.Append(chunk)
	}

	s.updateVoice(ctx, now)

	sample := s.composite(now)
	s.emitter.Emit(ctx, sample, "composite")

	s.mu.Lock()
	s.lastCompositeAt = now
	s.cycle++
	s.mu.Unlock()

	s.metrics.CompositeTickDuration.Record(ctx, time.Since(tickStart).Seconds())
}

// runVisual dispatches the rotation-selected visual detector on the frame.
func (s *Scheduler) runVisual(ctx context.Context, frame media.VideoFrame) {
	s.mu.Lock()
	turn := s.cycle % 3
	s.mu.Unlock()

	start := time.Now()
	switch turn {
	case 0:
		ctx, span := observe.StartSpan(ctx, "detector.face")
		result := s.det.Face.Analyze(ctx, frame)
		span.End()
		s.metrics.RecordDetectorRun(ctx, "face", result.Method, time.Since(start))
		s.mu.Lock()
		s.face = FaceState{Result: result, At: start, Observed: true}
		s.mu.Unlock()
	case 1:
		ctx, span := observe.StartSpan(ctx, "detector.eye")
		result := s.det.Eye.Analyze(ctx, frame)
		span.End()
		s.metrics.RecordDetectorRun(ctx, "eye", result.Method, time.Since(start))
		s.mu.Lock()
		s.eye = EyeState{Result: result, At: start, Observed: true}
		s.mu.Unlock()
	default:
		ctx, span := observe.StartSpan(ctx, "detector.hand")
		result := s.det.Hand.Analyze(ctx, frame)
		span.End()
		s.metrics.RecordDetectorRun(ctx, "hand", result.Method, time.Since(start))
		s.mu.Lock()
		s.hand = HandState{Result: result, At: start, Observed: true}
		s.mu.Unlock()
	}
}

// updateVoice applies the voice cadence rules within a composite tick: run
// when an analysis is due or the buffer has gone inactive, and declare
// no_audio once silence outlasts the threshold.
func (s *Scheduler) updateVoice(ctx context.Context, now time.Time) {
	first := s.firstAudioAt.Load()
	last := s.lastAudioAt.Load()

	if s.audio.Len() > 0 {
		due := false
		if first > 0 {
			elapsed := now.Sub(time.Unix(0, first))
			s.mu.Lock()
			done := s.voiceRuns
			s.mu.Unlock()
			due = int64(done) < int64(elapsed/s.timing.Voice)
		}
		inactive := last > 0 && now.Sub(time.Unix(0, last)) > s.timing.InactivityFlush

		if due || inactive {
			s.runVoice(ctx, now)
		}
		if inactive {
			s.audio.Clear()
		}
		return
	}

	// Empty buffer: declare no_audio once the silence outlasts the threshold.
	ref := time.Unix(0, last)
	if last == 0 {
		s.mu.Lock()
		ref = s.startedAt
		s.mu.Unlock()
	}
	if now.Sub(ref) > s.timing.NoAudioAfter {
		s.mu.Lock()
		s.voice = VoiceState{
			Result: detector.VoiceConfidence{
				ConfidenceLevel: detector.LevelNoAudio,
				Emotion:         detector.EmotionNoAudio,
				Confidence:      0,
				Method:          detector.MethodNone,
			},
			At:       now,
			Observed: true,
		}
		s.mu.Unlock()
	}
}

func (s *Scheduler) runVoice(ctx context.Context, now time.Time) {
	window := s.audio.Window()

	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "detector.voice")
	result := s.det.Voice.Analyze(ctx, window)
	span.End()
	s.metrics.RecordDetectorRun(ctx, "voice", result.Method, time.Since(start))

	s.mu.Lock()
	s.voice = VoiceState{Result: result, At: now, Observed: true}
	s.voiceRuns++
	s.mu.Unlock()
}

// composite canonicalises the retained states into one sample with a
// strictly increasing timestamp and records it as the last known sample.
func (s *Scheduler) composite(now time.Time) analysis.Sample {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := now
	if !ts.After(s.lastEmitAt) {
		ts = s.lastEmitAt.Add(time.Millisecond)
	}

	sample := Canonicalize(s.id, ts, s.face, s.eye, s.hand, s.voice)
	s.lastEmitAt = ts
	s.lastSample = sample
	s.hasSample = true
	s.samplesEmitted++
	return sample
}

// finalFlush runs the terminal tick inside stop: one last voice analysis over
// whatever audio remains, the voice level forced to session_stopped, and one
// final sample.
func (s *Scheduler) finalFlush() {
	ctx := context.Background()
	now := time.Now()

	for _, chunk := range s.intake.DrainAudio() {
		s.audio.Append(chunk)
	}

	if s.audio.Len() > 0 {
		window := s.audio.Window()
		result := s.det.Voice.Analyze(ctx, window)
		result.ConfidenceLevel = detector.LevelSessionStopped
		s.mu.Lock()
		s.voice = VoiceState{Result: result, At: now, Observed: true}
		s.mu.Unlock()
		s.audio.Clear()
	} else {
		s.mu.Lock()
		s.voice.Result.ConfidenceLevel = detector.LevelSessionStopped
		s.voice.At = now
		s.voice.Observed = true
		s.mu.Unlock()
	}

	sample := s.composite(now)
	s.emitter.Emit(ctx, sample, "final_flush")
	s.log.Info("session flushed", slog.Time("at", now))
}

// recoverFatal turns a tick panic into a terminal broadcast and a Stopped
// session instead of a crashed process.
func (s *Scheduler) recoverFatal() {
	r := recover()
	if r == nil {
		return
	}

	ctx := context.Background()
	s.log.Error("scheduler tick panicked", slog.Any("panic", r))

	s.setState(StateStopped)
	s.emitter.Broadcast(ctx, errorSample(s.id, time.Now()))
	s.metrics.RecordSample(ctx, "terminal_error")
	s.cancel()

	if s.onFatal != nil {
		go s.onFatal(s.id.SessionID)
	}
}

// errorSample is the terminal broadcast after a fatal tick: every modality
// unknown with method "error".
func errorSample(id Identity, ts time.Time) analysis.Sample {
	face := FaceState{Result: detector.FaceStress{
		StressLevel: detector.StressUnknown,
		Emotion:     detector.EmotionUnknown,
		Method:      detector.MethodError,
	}, At: ts, Observed: true}
	eye := EyeState{Result: detector.EyeConfidence{
		ConfidenceLevel: detector.LevelUnknown,
		Method:          detector.MethodError,
	}, At: ts, Observed: true}
	hand := HandState{Result: detector.HandConfidence{
		ConfidenceLevel: detector.LevelUnknown,
		Method:          detector.MethodError,
	}, At: ts, Observed: true}
	voice := VoiceState{Result: detector.VoiceConfidence{
		ConfidenceLevel: detector.LevelUnknown,
		Emotion:         detector.EmotionUnknown,
		Method:          detector.MethodError,
	}, At: ts, Observed: true}

	return Canonicalize(id, ts, face, eye, hand, voice)
}

func (s *Scheduler) currentState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Scheduler) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}
