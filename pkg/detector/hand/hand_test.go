package hand_test

import (
	"context"
	"image"
	"image/color"
	"slices"
	"testing"
	"time"

	"github.com/mkessel/candor/pkg/detector"
	"github.com/mkessel/candor/pkg/detector/hand"
	"github.com/mkessel/candor/pkg/media"
)

var (
	skin = color.RGBA{R: 210, G: 150, B: 115, A: 255}
	desk = color.RGBA{R: 40, G: 45, B: 55, A: 255}
)

// seatedFrame paints a dark background and optionally a skin patch in each
// lower corner, mimicking a seated interview framing.
func seatedFrame(t *testing.T, leftHand, rightHand bool) media.VideoFrame {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 100, 100))
	for y := 0; y < 100; y++ {
		for x := 0; x < 100; x++ {
			img.Set(x, y, desk)
		}
	}
	paint := func(x0, x1 int) {
		for y := 62; y < 100; y++ {
			for x := x0; x < x1; x++ {
				img.Set(x, y, skin)
			}
		}
	}
	if leftHand {
		paint(0, 33)
	}
	if rightHand {
		paint(67, 100)
	}
	return media.VideoFrame{SessionID: "s1", Image: img, CapturedAt: time.Now()}
}

func newDetector(t *testing.T) *hand.Detector {
	t.Helper()
	d, err := hand.New(hand.Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d
}

func TestAnalyze_BothHandsVisible(t *testing.T) {
	t.Parallel()

	result := newDetector(t).Analyze(context.Background(), seatedFrame(t, true, true))
	if result.ConfidenceLevel != detector.LevelConfident {
		t.Errorf("level = %q, want confident", result.ConfidenceLevel)
	}
	if result.HandsDetected != 2 {
		t.Errorf("hands = %d, want 2", result.HandsDetected)
	}
	if !slices.Contains(result.Gestures, "open_palm") {
		t.Errorf("gestures = %v, want open_palm", result.Gestures)
	}
	if result.Method != detector.MethodHeuristic {
		t.Errorf("method = %q, want heuristic", result.Method)
	}
}

func TestAnalyze_OneHandVisible(t *testing.T) {
	t.Parallel()

	result := newDetector(t).Analyze(context.Background(), seatedFrame(t, true, false))
	if result.ConfidenceLevel != detector.LevelSomewhatConfident {
		t.Errorf("level = %q, want somewhat_confident", result.ConfidenceLevel)
	}
	if result.HandsDetected != 1 {
		t.Errorf("hands = %d, want 1", result.HandsDetected)
	}
}

func TestAnalyze_NoHands(t *testing.T) {
	t.Parallel()

	result := newDetector(t).Analyze(context.Background(), seatedFrame(t, false, false))
	if result.ConfidenceLevel != detector.LevelNoHands {
		t.Errorf("level = %q, want no_hands", result.ConfidenceLevel)
	}
	if result.HandsDetected != 0 {
		t.Errorf("hands = %d, want 0", result.HandsDetected)
	}
}
