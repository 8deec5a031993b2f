// Package app wires all Candor subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves until the context is cancelled, and Shutdown tears
// everything down in order.
//
// For testing, inject doubles via functional options (WithStore,
// WithDetectors, …). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mkessel/candor/internal/api"
	"github.com/mkessel/candor/internal/bus"
	"github.com/mkessel/candor/internal/config"
	"github.com/mkessel/candor/internal/health"
	"github.com/mkessel/candor/internal/observe"
	"github.com/mkessel/candor/internal/resilience"
	"github.com/mkessel/candor/internal/session"
	"github.com/mkessel/candor/internal/socket"
	"github.com/mkessel/candor/pkg/analysis"
	"github.com/mkessel/candor/pkg/analysis/postgres"
	"github.com/mkessel/candor/pkg/detector"
	"github.com/mkessel/candor/pkg/detector/eye"
	"github.com/mkessel/candor/pkg/detector/face"
	"github.com/mkessel/candor/pkg/detector/hand"
	"github.com/mkessel/candor/pkg/detector/onnx"
	"github.com/mkessel/candor/pkg/detector/voice"
)

// App owns all subsystem lifetimes.
type App struct {
	cfg *config.Config

	store     analysis.Store
	hub       *bus.Hub
	metrics   *observe.Metrics
	detectors detector.Set
	manager   *session.Manager
	agg       *session.Aggregator
	timing    session.Timing
	srv       *http.Server

	// checkers feed the /readyz endpoint; populated as subsystems come up.
	checkers []health.Checker

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a store instead of connecting to PostgreSQL.
func WithStore(s analysis.Store) Option {
	return func(a *App) { a.store = s }
}

// WithDetectors injects a detector set instead of building one from config.
func WithDetectors(d detector.Set) Option {
	return func(a *App) { a.detectors = d }
}

// WithMetrics injects a metrics instance instead of the process default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithTiming overrides the scheduler cadences. Tests shrink these.
func WithTiming(t session.Timing) Option {
	return func(a *App) { a.timing = t }
}

// New creates an App by wiring all subsystems together. Initialisation is
// synchronous: store connection and migration, ONNX runtime and model
// loading, then the session manager and HTTP surface.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}

	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}
	if err := a.initDetectors(); err != nil {
		return nil, fmt.Errorf("app: init detectors: %w", err)
	}

	a.hub = bus.NewHub(nil)
	a.closers = append(a.closers, func() error {
		a.hub.Close()
		return nil
	})

	emitter := session.NewEmitter(a.store, a.hub, a.metrics, nil)
	a.agg = session.NewAggregator(a.store, nil)
	a.manager = session.NewManager(a.detectors, emitter, a.agg, a.metrics, a.timing, nil)

	socketSrv := socket.NewServer(a.manager, a.hub, nil)
	apiSrv := api.NewServer(a.manager, a.agg, a.store, a.metrics, socketSrv, health.New(a.checkers...), nil)

	a.srv = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           apiSrv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// initStore connects to PostgreSQL unless a store was injected.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	if a.cfg.Database.DSN == "" {
		return errors.New("database.dsn is required when no store is injected")
	}

	store, err := postgres.NewStore(ctx, a.cfg.Database.DSN)
	if err != nil {
		return err
	}
	a.store = store
	a.checkers = append(a.checkers, health.Checker{Name: "database", Check: store.Ping})
	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})
	return nil
}

// initDetectors builds the four modality chains from config unless a set was
// injected. Modalities without a model path run heuristic-only.
func (a *App) initDetectors() error {
	if a.detectors != (detector.Set{}) {
		return nil
	}

	models := a.cfg.Models
	if models.Any() {
		if err := onnx.InitRuntime(models.Library); err != nil {
			return fmt.Errorf("init onnx runtime: %w", err)
		}
		a.closers = append(a.closers, onnx.ShutdownRuntime)
	}
	if a.cfg.Inference.MaxConcurrent > 0 {
		onnx.SetMaxConcurrent(int64(a.cfg.Inference.MaxConcurrent))
	}

	breaker := resilience.BreakerConfig{
		MaxFailures:  a.cfg.Inference.BreakerMaxFailures,
		ResetTimeout: a.cfg.Inference.BreakerResetTimeout,
	}

	faceDet, err := face.New(face.Config{ModelPath: models.Face, Breaker: breaker})
	if err != nil {
		return fmt.Errorf("face detector: %w", err)
	}
	eyeDet, err := eye.New(eye.Config{ModelPath: models.Eye, Breaker: breaker})
	if err != nil {
		return fmt.Errorf("eye detector: %w", err)
	}
	handDet, err := hand.New(hand.Config{ModelPath: models.Hand, Breaker: breaker})
	if err != nil {
		return fmt.Errorf("hand detector: %w", err)
	}
	voiceDet, err := voice.New(voice.Config{ModelPath: models.Voice, Breaker: breaker})
	if err != nil {
		return fmt.Errorf("voice detector: %w", err)
	}

	a.detectors = detector.Set{
		Face:  faceDet,
		Eye:   eyeDet,
		Hand:  handDet,
		Voice: voiceDet,
	}
	return nil
}

// Manager exposes the session registry, mainly for tests driving the app
// without the socket.
func (a *App) Manager() *session.Manager { return a.manager }

// Run serves HTTP until ctx is cancelled, then drains live sessions and
// shuts the server down. Returns nil on a clean shutdown.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = a.srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-ctx.Done()

		// Sessions first so their final flushes still reach the store, then
		// the HTTP server.
		a.manager.StopAll()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Shutdown runs the closers in order. Safe to call multiple times.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", slog.Int("closers", len(a.closers)))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", slog.Int("remaining", len(a.closers)-i))
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", slog.Int("index", i), slog.String("error", err.Error()))
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
