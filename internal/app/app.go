// Package app wires the SpeakAura subsystems into a running application.
//
// The App struct owns the full lifecycle: New connects the result store and
// builds the analysis pipeline, Run serves the HTTP API, Shutdown tears
// everything down in order. The batch CLI uses [App.AnalyzeBatch] instead of
// Run.
//
// For testing, inject doubles via functional options ([WithStore],
// [WithMetrics]). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/MrWong99/speakaura/internal/analysis"
	"github.com/MrWong99/speakaura/internal/config"
	"github.com/MrWong99/speakaura/internal/health"
	"github.com/MrWong99/speakaura/internal/observe"
	"github.com/MrWong99/speakaura/internal/server"
	"github.com/MrWong99/speakaura/internal/therapy"
	"github.com/MrWong99/speakaura/pkg/provider/embeddings"
	"github.com/MrWong99/speakaura/pkg/provider/llm"
	"github.com/MrWong99/speakaura/pkg/store"
	"github.com/MrWong99/speakaura/pkg/store/postgres"
)

// Providers holds the two external collaborators. Populated by main.go via
// the config registry, usually wrapped in resilience fallbacks.
type Providers struct {
	LLM        llm.Provider
	Embeddings embeddings.Provider
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics
	logLevel  *slog.LevelVar

	store    store.Store
	pipeline *analysis.Pipeline
	server   *server.Server
	httpSrv  *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a result store instead of creating one from config.
func WithStore(s store.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics sets the metrics instruments. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel hands the App the level variable behind the process logger so
// that config reloads can change verbosity.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = v }
}

// New creates an App by wiring all subsystems together.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.LLM == nil || providers.Embeddings == nil {
		return nil, errors.New("app: llm and embeddings providers are required")
	}
	a := &App{cfg: cfg, providers: providers}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initStore(ctx); err != nil {
		_ = a.Shutdown(ctx)
		return nil, fmt.Errorf("app: init store: %w", err)
	}
	if err := a.initPipeline(); err != nil {
		_ = a.Shutdown(ctx)
		return nil, fmt.Errorf("app: init pipeline: %w", err)
	}

	a.server = server.New(a.pipeline, a.store,
		server.WithMetrics(a.metrics),
		server.WithHealth(health.New(a.checkers()...)),
	)
	return a, nil
}

func (a *App) initStore(ctx context.Context) error {
	if a.store == nil {
		switch dsn := a.cfg.Store.PostgresDSN; dsn {
		case "":
			a.store = store.NewMemStore()
			slog.Info("using in-memory result store")
		default:
			dims := a.cfg.Store.EmbeddingDimensions
			if dims == 0 {
				dims = a.providers.Embeddings.Dimensions()
			}
			if dims <= 0 {
				return fmt.Errorf("embedding dimensions unknown for model %q; set store.embedding_dimensions", a.providers.Embeddings.ModelID())
			}
			pg, err := postgres.NewStore(ctx, dsn, dims)
			if err != nil {
				return err
			}
			a.closers = append(a.closers, func() error {
				pg.Close()
				return nil
			})
			a.store = pg
			slog.Info("using postgres result store", "embedding_dimensions", dims)
		}
	}
	a.store = newInstrumentedStore(a.store, a.metrics)
	return nil
}

func (a *App) initPipeline() error {
	planner := therapy.NewPlanner(a.providers.LLM)
	asm, err := analysis.NewAssembler(a.providers.Embeddings, planner, analysis.WithAssemblerMetrics(a.metrics))
	if err != nil {
		return err
	}
	opts := []analysis.Option{
		analysis.WithPolicy(a.cfg.Analysis.Policy()),
		analysis.WithMetrics(a.metrics),
	}
	if p := a.cfg.Analysis.PlanPlaceholder; p != "" {
		opts = append(opts, analysis.WithPlanFallback(p))
	}
	a.pipeline, err = analysis.NewPipeline(asm, opts...)
	return err
}

func (a *App) checkers() []health.Checker {
	checks := []health.Checker{health.PingChecker("store", a.store)}
	if fs, ok := a.providers.LLM.(health.FallbackStatus); ok {
		checks = append(checks, health.BreakerCheckers("llm", fs)...)
	}
	if fs, ok := a.providers.Embeddings.(health.FallbackStatus); ok {
		checks = append(checks, health.BreakerCheckers("embeddings", fs)...)
	}
	return checks
}

// Pipeline returns the analysis pipeline.
func (a *App) Pipeline() *analysis.Pipeline { return a.pipeline }

// Store returns the (instrumented) result store.
func (a *App) Store() store.Store { return a.store }

// Handler returns the HTTP API handler.
func (a *App) Handler() http.Handler { return a.server.Handler() }

// ApplyConfig installs the live-reloadable parts of a reloaded config. It is
// meant as the [config.Watcher] callback.
func (a *App) ApplyConfig(_, updated *config.Config, d config.ConfigDiff) {
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.AnalysisChanged {
		if err := a.pipeline.SetPolicy(updated.Analysis.Policy()); err != nil {
			slog.Error("rejected reloaded analysis policy", "err", err)
			return
		}
		slog.Info("analysis policy reloaded")
	}
}

// Run serves the HTTP API until ctx is cancelled or the listener fails.
func (a *App) Run(ctx context.Context) error {
	a.httpSrv = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.httpSrv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = a.httpSrv.ListenAndServe()
		}
		errCh <- err
	}()

	slog.Info("app running", "listen_addr", a.cfg.Server.ListenAddr, "tls", a.cfg.Server.TLS != nil)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	}
}

// Shutdown stops the HTTP server and runs the closers in order, respecting
// the context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if a.httpSrv != nil {
			if err := a.httpSrv.Shutdown(ctx); err != nil {
				slog.Warn("http shutdown error", "err", err)
				shutdownErr = err
			}
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// SlogLevel maps a config log level onto slog.
func SlogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
