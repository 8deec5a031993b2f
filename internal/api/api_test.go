package api_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/mkessel/candor/internal/api"
	"github.com/mkessel/candor/internal/observe"
	"github.com/mkessel/candor/internal/session"
	"github.com/mkessel/candor/pkg/analysis"
	amock "github.com/mkessel/candor/pkg/analysis/mock"
	"github.com/mkessel/candor/pkg/detector"
	dmock "github.com/mkessel/candor/pkg/detector/mock"
)

func testTiming() session.Timing {
	return session.Timing{
		Composite:       50 * time.Millisecond,
		Voice:           25 * time.Millisecond,
		Poll:            5 * time.Millisecond,
		InactivityFlush: 15 * time.Millisecond,
		NoAudioAfter:    30 * time.Millisecond,
		StopTimeout:     time.Second,
	}
}

func newTestServer(t *testing.T) (http.Handler, *amock.Store, *session.Manager) {
	t.Helper()

	metrics, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	log := slog.New(slog.DiscardHandler)

	store := amock.NewStore()
	bus := &amock.EventBus{}
	det := detector.Set{
		Face:  &dmock.FaceDetector{Result: detector.FaceStress{StressLevel: detector.StressAbsent, Method: detector.MethodHeuristic}},
		Eye:   &dmock.EyeDetector{Result: detector.EyeConfidence{ConfidenceLevel: detector.LevelConfident, Method: detector.MethodHeuristic}},
		Hand:  &dmock.HandDetector{Result: detector.HandConfidence{ConfidenceLevel: detector.LevelConfident, Method: detector.MethodHeuristic}},
		Voice: &dmock.VoiceDetector{Result: detector.VoiceConfidence{ConfidenceLevel: detector.LevelConfident, Emotion: detector.EmotionCalm, Method: detector.MethodHeuristic}},
	}
	emitter := session.NewEmitter(store, bus, metrics, log)
	agg := session.NewAggregator(store, log)
	manager := session.NewManager(det, emitter, agg, metrics, testTiming(), log)
	t.Cleanup(manager.StopAll)

	srv := api.NewServer(manager, agg, store, metrics, nil, nil, log)
	return srv.Routes(), store, manager
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSessionLifecycle(t *testing.T) {
	t.Parallel()

	h, _, manager := newTestServer(t)

	rec := do(t, h, http.MethodPost, "/session/s1/start", `{"user_id":"u1","job_role_id":"r1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("start = %d: %s", rec.Code, rec.Body)
	}
	if !manager.Active("s1") {
		t.Fatal("session not active after start")
	}

	// Duplicate start conflicts.
	if rec := do(t, h, http.MethodPost, "/session/s1/start", ""); rec.Code != http.StatusConflict {
		t.Errorf("duplicate start = %d, want 409", rec.Code)
	}

	// Live lookup returns the view.
	rec = do(t, h, http.MethodGet, "/session/s1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("lookup = %d", rec.Code)
	}
	var view session.SessionView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	if view.SessionID != "s1" || view.UserID != "u1" || view.State != session.StateRunning {
		t.Errorf("view = %+v", view)
	}

	if rec := do(t, h, http.MethodPost, "/session/s1/stop", ""); rec.Code != http.StatusOK {
		t.Errorf("stop = %d: %s", rec.Code, rec.Body)
	}
	if rec := do(t, h, http.MethodGet, "/session/s1", ""); rec.Code != http.StatusNotFound {
		t.Errorf("lookup after stop = %d, want 404", rec.Code)
	}
}

func TestStopUnknownSession(t *testing.T) {
	t.Parallel()

	h, _, _ := newTestServer(t)
	if rec := do(t, h, http.MethodPost, "/session/nope/stop", ""); rec.Code != http.StatusNotFound {
		t.Errorf("stop = %d, want 404", rec.Code)
	}
}

func TestStartRejectsMalformedBody(t *testing.T) {
	t.Parallel()

	h, _, _ := newTestServer(t)
	if rec := do(t, h, http.MethodPost, "/session/s1/start", "{not json"); rec.Code != http.StatusBadRequest {
		t.Errorf("start = %d, want 400", rec.Code)
	}
}

func TestCalculateFinalScores(t *testing.T) {
	t.Parallel()

	h, store, _ := newTestServer(t)

	sample := analysis.Sample{
		SessionID:       "s1",
		UserID:          "u1",
		JobRoleID:       "r1",
		Timestamp:       time.Now(),
		EyeConfidence:   analysis.EyeConfidenceComponent{Confidence: 1},
		HandConfidence:  analysis.HandConfidenceComponent{Confidence: 1},
		VoiceConfidence: analysis.VoiceConfidenceComponent{Confidence: 1},
	}
	if err := store.PersistSample(context.Background(), sample); err != nil {
		t.Fatal(err)
	}

	rec := do(t, h, http.MethodPost, "/session/s1/calculate-final-scores", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("calculate = %d: %s", rec.Code, rec.Body)
	}
	var score analysis.FinalScore
	if err := json.Unmarshal(rec.Body.Bytes(), &score); err != nil {
		t.Fatalf("decode score: %v", err)
	}
	if score.SamplesAnalyzed != 1 {
		t.Errorf("samples analyzed = %d, want 1", score.SamplesAnalyzed)
	}
	if score.OverallConfidence < 99.9 || score.OverallConfidence > 100.1 {
		t.Errorf("overall confidence = %v, want ~100", score.OverallConfidence)
	}

	// The recomputed score is retrievable.
	rec = do(t, h, http.MethodGet, "/session/s1/final-scores", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("final-scores = %d", rec.Code)
	}
}

func TestFinalScoresNotFound(t *testing.T) {
	t.Parallel()

	h, _, _ := newTestServer(t)
	if rec := do(t, h, http.MethodGet, "/session/nope/final-scores", ""); rec.Code != http.StatusNotFound {
		t.Errorf("final-scores = %d, want 404", rec.Code)
	}
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()

	h, _, _ := newTestServer(t)
	for _, path := range []string{"/healthz", "/readyz"} {
		rec := do(t, h, http.MethodGet, path, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("%s = %d", path, rec.Code)
		}
		if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
			t.Errorf("%s content type = %q", path, ct)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	h, _, _ := newTestServer(t)
	if rec := do(t, h, http.MethodGet, "/metrics", ""); rec.Code != http.StatusOK {
		t.Errorf("metrics = %d", rec.Code)
	}
}
