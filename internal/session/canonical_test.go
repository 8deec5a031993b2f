package session

import (
	"testing"
	"time"

	"github.com/mkessel/candor/pkg/detector"
)

func TestCanonicalize_BinaryEnvelope(t *testing.T) {
	t.Parallel()

	id := Identity{SessionID: "s1", UserID: "u1", JobRoleID: "r1"}
	ts := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		face       detector.FaceStress
		eye        detector.EyeConfidence
		hand       detector.HandConfidence
		voice      detector.VoiceConfidence
		wantStress int
		wantEye    int
		wantHand   int
		wantVoice  int
	}{
		{
			name:       "all positive",
			face:       detector.FaceStress{StressLevel: detector.StressDetected, Confidence: 0.9},
			eye:        detector.EyeConfidence{ConfidenceLevel: detector.LevelConfident},
			hand:       detector.HandConfidence{ConfidenceLevel: detector.LevelSomewhatConfident},
			voice:      detector.VoiceConfidence{ConfidenceLevel: detector.LevelConfident, Emotion: detector.EmotionHappy},
			wantStress: 1, wantEye: 1, wantHand: 1, wantVoice: 1,
		},
		{
			name:       "somewhat_confident counts, not_confident does not",
			face:       detector.FaceStress{StressLevel: detector.StressAbsent},
			eye:        detector.EyeConfidence{ConfidenceLevel: detector.LevelSomewhatConfident},
			hand:       detector.HandConfidence{ConfidenceLevel: detector.LevelNotConfident},
			voice:      detector.VoiceConfidence{ConfidenceLevel: detector.LevelNotConfident, Emotion: detector.EmotionAngry},
			wantStress: 0, wantEye: 1, wantHand: 0, wantVoice: 0,
		},
		{
			name:       "good emotion lifts a weak voice level",
			face:       detector.FaceStress{StressLevel: detector.StressUnknown},
			eye:        detector.EyeConfidence{ConfidenceLevel: detector.LevelNoEyes},
			hand:       detector.HandConfidence{ConfidenceLevel: detector.LevelNoHands},
			voice:      detector.VoiceConfidence{ConfidenceLevel: detector.LevelNotConfident, Emotion: detector.EmotionCalm},
			wantStress: 0, wantEye: 0, wantHand: 0, wantVoice: 1,
		},
		{
			name:       "unknown everywhere is all zeros",
			face:       detector.FaceStress{StressLevel: detector.StressUnknown},
			eye:        detector.EyeConfidence{ConfidenceLevel: detector.LevelUnknown},
			hand:       detector.HandConfidence{ConfidenceLevel: detector.LevelUnknown},
			voice:      detector.VoiceConfidence{ConfidenceLevel: detector.LevelNoAudio, Emotion: detector.EmotionNoAudio},
			wantStress: 0, wantEye: 0, wantHand: 0, wantVoice: 0,
		},
		{
			name:       "session_stopped voice with neutral emotion still counts",
			face:       detector.FaceStress{StressLevel: detector.StressAbsent},
			eye:        detector.EyeConfidence{ConfidenceLevel: detector.LevelConfident},
			hand:       detector.HandConfidence{ConfidenceLevel: detector.LevelConfident},
			voice:      detector.VoiceConfidence{ConfidenceLevel: detector.LevelSessionStopped, Emotion: detector.EmotionNeutral},
			wantStress: 0, wantEye: 1, wantHand: 1, wantVoice: 1,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			sample := Canonicalize(id, ts,
				FaceState{Result: tc.face, At: ts, Observed: true},
				EyeState{Result: tc.eye, At: ts, Observed: true},
				HandState{Result: tc.hand, At: ts, Observed: true},
				VoiceState{Result: tc.voice, At: ts, Observed: true},
			)

			if sample.FaceStress.Stress != tc.wantStress {
				t.Errorf("face stress = %d, want %d", sample.FaceStress.Stress, tc.wantStress)
			}
			if sample.EyeConfidence.Confidence != tc.wantEye {
				t.Errorf("eye = %d, want %d", sample.EyeConfidence.Confidence, tc.wantEye)
			}
			if sample.HandConfidence.Confidence != tc.wantHand {
				t.Errorf("hand = %d, want %d", sample.HandConfidence.Confidence, tc.wantHand)
			}
			if sample.VoiceConfidence.Confidence != tc.wantVoice {
				t.Errorf("voice = %d, want %d", sample.VoiceConfidence.Confidence, tc.wantVoice)
			}
		})
	}
}

func TestCanonicalize_Pure(t *testing.T) {
	t.Parallel()

	id := Identity{SessionID: "s1", UserID: "u1", JobRoleID: "r1"}
	ts := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	face := FaceState{Result: detector.FaceStress{StressLevel: detector.StressDetected, Emotion: detector.EmotionAngry, Confidence: 0.7}, At: ts.Add(-time.Second), Observed: true}
	eye := EyeState{Result: detector.EyeConfidence{ConfidenceLevel: detector.LevelConfident, EyesDetected: 2, Confidence: 0.8}, At: ts.Add(-2 * time.Second), Observed: true}
	hand := HandState{Result: detector.HandConfidence{ConfidenceLevel: detector.LevelConfident, Gestures: []string{"open_palm"}}, At: ts.Add(-3 * time.Second), Observed: true}
	voice := VoiceState{Result: detector.VoiceConfidence{ConfidenceLevel: detector.LevelConfident, Emotion: detector.EmotionCalm, Confidence: 0.6}, At: ts, Observed: true}

	a := Canonicalize(id, ts, face, eye, hand, voice)
	b := Canonicalize(id, ts, face, eye, hand, voice)

	if a.Timestamp != b.Timestamp ||
		a.FaceStress != b.FaceStress ||
		a.EyeConfidence != b.EyeConfidence ||
		a.VoiceConfidence != b.VoiceConfidence ||
		a.Overall != b.Overall {
		t.Error("identical inputs must produce identical samples")
	}
	// Component timestamps are the detector-run times, not the sample time.
	if !a.HandConfidence.Timestamp.Equal(ts.Add(-3 * time.Second)) {
		t.Errorf("hand timestamp = %v, want the detector-run time", a.HandConfidence.Timestamp)
	}
}

func TestCanonicalize_OverallScores(t *testing.T) {
	t.Parallel()

	id := Identity{SessionID: "s1"}
	ts := time.Now()

	t.Run("no observations defaults to 0.5", func(t *testing.T) {
		t.Parallel()
		sample := Canonicalize(id, ts, FaceState{}, EyeState{}, HandState{}, VoiceState{})
		if sample.Overall.ConfidenceScore != 0.5 {
			t.Errorf("confidence score = %v, want 0.5", sample.Overall.ConfidenceScore)
		}
		if sample.Overall.StressScore != 0.5 {
			t.Errorf("stress score = %v, want 0.5", sample.Overall.StressScore)
		}
	})

	t.Run("mean over observed modalities only", func(t *testing.T) {
		t.Parallel()
		sample := Canonicalize(id, ts,
			FaceState{},
			EyeState{Result: detector.EyeConfidence{ConfidenceLevel: detector.LevelConfident}, Observed: true},
			HandState{Result: detector.HandConfidence{ConfidenceLevel: detector.LevelNotConfident}, Observed: true},
			VoiceState{},
		)
		if sample.Overall.ConfidenceScore != 0.5 {
			t.Errorf("confidence score = %v, want 0.5 (1 of 2 observed)", sample.Overall.ConfidenceScore)
		}
	})

	t.Run("stress score mirrors face confidence", func(t *testing.T) {
		t.Parallel()
		stressed := Canonicalize(id, ts,
			FaceState{Result: detector.FaceStress{StressLevel: detector.StressDetected, Confidence: 0.8}, Observed: true},
			EyeState{}, HandState{}, VoiceState{})
		if stressed.Overall.StressScore != 0.8 {
			t.Errorf("stress score = %v, want 0.8", stressed.Overall.StressScore)
		}

		relaxed := Canonicalize(id, ts,
			FaceState{Result: detector.FaceStress{StressLevel: detector.StressAbsent, Confidence: 0.8}, Observed: true},
			EyeState{}, HandState{}, VoiceState{})
		if got := relaxed.Overall.StressScore; got < 0.199 || got > 0.201 {
			t.Errorf("stress score = %v, want 0.2", got)
		}
	})
}
