// Package app wires all VoxPrep subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context is cancelled, and Shutdown
// tears everything down in order.
//
// For testing, inject alternatives via functional options (WithFlowStore,
// WithCallDialer, etc.). When an option is not provided, New creates real
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

	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/voxprep/voxprep/internal/api"
	"github.com/voxprep/voxprep/internal/call"
	"github.com/voxprep/voxprep/internal/config"
	"github.com/voxprep/voxprep/internal/flow"
	"github.com/voxprep/voxprep/internal/health"
	"github.com/voxprep/voxprep/internal/observe"
	"github.com/voxprep/voxprep/internal/store/postgres"
	"github.com/voxprep/voxprep/pkg/provider/embeddings"
	"github.com/voxprep/voxprep/pkg/provider/llm"
	"github.com/voxprep/voxprep/pkg/voice"
	"github.com/voxprep/voxprep/pkg/voice/relay"
)

// shutdownTimeout bounds the HTTP server drain when the run context ends.
const shutdownTimeout = 10 * time.Second

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	LLM        llm.Provider
	Embeddings embeddings.Provider
}

// App owns all subsystem lifetimes and serves the VoxPrep interview API.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems — initialised in New, torn down in Shutdown.
	metrics  *observe.Metrics
	store    flow.Store
	pg       *postgres.Store
	qindex   flow.QuestionIndex
	orch     *flow.Orchestrator
	calls    *call.Manager
	dialer   call.Dialer
	server   *http.Server
	otelStop func(context.Context) error

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithFlowStore injects a session store instead of creating one from config.
func WithFlowStore(s flow.Store) Option {
	return func(a *App) { a.store = s }
}

// WithQuestionIndex injects a semantic repeat index instead of building one
// from the postgres store and the embeddings provider.
func WithQuestionIndex(idx flow.QuestionIndex) Option {
	return func(a *App) { a.qindex = idx }
}

// WithCallDialer injects a transport dialer instead of dialing the configured
// voice relay.
func WithCallDialer(d call.Dialer) Option {
	return func(a *App) { a.dialer = d }
}

// WithMetrics injects a metrics instance instead of initialising the OTel SDK.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). Use Option functions
// to inject test doubles for any subsystem.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.LLM == nil {
		return nil, fmt.Errorf("app: an LLM provider is required")
	}

	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}

	// ── 1. Telemetry ─────────────────────────────────────────────────────
	if err := a.initTelemetry(ctx); err != nil {
		return nil, fmt.Errorf("app: init telemetry: %w", err)
	}

	// ── 2. Session store ─────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 3. Flow engine ───────────────────────────────────────────────────
	a.initFlow()

	// ── 4. Voice calls ───────────────────────────────────────────────────
	a.initCalls()

	// ── 5. HTTP server ───────────────────────────────────────────────────
	a.initServer()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initTelemetry sets up the OTel SDK and the metrics instruments, unless a
// metrics instance was injected.
func (a *App) initTelemetry(ctx context.Context) error {
	if a.metrics != nil {
		return nil
	}

	stop, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		return err
	}
	a.otelStop = stop

	m, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		return err
	}
	a.metrics = m
	return nil
}

// initStore connects the PostgreSQL session store, or falls back to the
// in-memory store when no DSN is configured.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}

	dsn := a.cfg.Store.PostgresDSN
	if dsn == "" {
		slog.Warn("store.postgres_dsn not set, interview sessions are held in memory")
		a.store = flow.NewMemStore()
		return nil
	}

	dims := a.cfg.Store.EmbeddingDimensions
	if dims == 0 {
		dims = 1536 // matches OpenAI text-embedding-3-small
	}

	pg, err := postgres.NewStore(ctx, dsn, dims)
	if err != nil {
		return err
	}
	a.pg = pg
	a.store = pg.Flows()
	a.closers = append(a.closers, func() error {
		pg.Close()
		return nil
	})

	if a.qindex == nil && a.providers.Embeddings != nil {
		a.qindex = pg.Questions(a.providers.Embeddings)
		slog.Info("semantic question repeat index enabled")
	}
	return nil
}

// initFlow builds the analyzer, generator, and orchestrator from config.
func (a *App) initFlow() {
	genOpts := []flow.GeneratorOption{}
	if a.qindex != nil {
		genOpts = append(genOpts, flow.WithQuestionIndex(a.qindex))
	}
	if t := a.cfg.Interview.SimilarityThreshold; t > 0 {
		genOpts = append(genOpts, flow.WithSimilarityThreshold(t))
	}

	a.orch = flow.NewOrchestrator(
		a.store,
		flow.NewAnalyzer(a.providers.LLM, a.metrics),
		flow.NewGenerator(a.providers.LLM, a.metrics, genOpts...),
		a.metrics,
		flow.WithDefaultTotalQuestions(a.cfg.Interview.TotalQuestions),
	)
}

// initCalls builds the call manager when a voice relay (or an injected
// dialer) is available. Without one the /v1/calls endpoints answer 503.
func (a *App) initCalls() {
	dialer := a.dialer
	if dialer == nil {
		url := a.cfg.Voice.RelayURL
		if url == "" {
			slog.Info("voice.relay_url not set, running without voice calls")
			return
		}
		buffer := a.cfg.Voice.EventBuffer
		dialer = func(ctx context.Context) (voice.Transport, error) {
			opts := []relay.Option{}
			if buffer > 0 {
				opts = append(opts, relay.WithEventBuffer(buffer))
			}
			return relay.Dial(ctx, url, opts...)
		}
	}

	a.calls = call.NewManager(a.orch, dialer,
		call.WithMetrics(a.metrics),
		call.WithMaxInterruptionDelay(a.cfg.Interview.MaxInterruptionDelay),
	)
	a.closers = append(a.closers, func() error {
		a.calls.Close(context.Background())
		return nil
	})
}

// initServer assembles the HTTP handler and the server around it.
func (a *App) initServer() {
	checkers := []health.Checker{
		{Name: "llm", Check: func(ctx context.Context) error {
			if a.providers.LLM == nil {
				return fmt.Errorf("no llm provider")
			}
			// A failover-wrapped provider knows whether any of its backends
			// still accepts traffic.
			if r, ok := a.providers.LLM.(interface{ Ready() error }); ok {
				return r.Ready()
			}
			return nil
		}},
	}
	if a.pg != nil {
		checkers = append(checkers, health.PingChecker("database", a.pg.Pool()))
	}

	apiOpts := []api.Option{
		api.WithHealth(health.New(checkers...)),
		api.WithMetrics(a.metrics),
	}
	if a.calls != nil {
		apiOpts = append(apiOpts, api.WithCallManager(a.calls))
	}

	a.server = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           api.New(a.orch, apiOpts...).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Handler returns the assembled HTTP handler. Useful in tests that exercise
// the API without binding a listener.
func (a *App) Handler() http.Handler {
	return a.server.Handler
}

// ApplyConfig applies the hot-reloadable parts of a config change to the
// running application. Interview tuning takes effect for new sessions and
// calls; everything flagged RestartRequired is only logged.
func (a *App) ApplyConfig(diff config.ConfigDiff) {
	if diff.InterviewChanged {
		a.orch.SetDefaultTotalQuestions(diff.NewInterview.TotalQuestions)
		if a.calls != nil {
			a.calls.SetMaxInterruptionDelay(diff.NewInterview.MaxInterruptionDelay)
		}
		slog.Info("interview tuning updated",
			"total_questions", diff.NewInterview.TotalQuestions,
			"max_interruption_delay", diff.NewInterview.MaxInterruptionDelay,
		)
	}
	if diff.RestartRequired {
		slog.Warn("config change requires a restart to take full effect")
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP and blocks until ctx is cancelled or the listener fails.
// On cancellation the server drains in-flight requests for up to
// [shutdownTimeout] before returning.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			slog.Info("serving https", "addr", a.server.Addr)
			err = a.server.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			slog.Info("serving http", "addr", a.server.Addr)
			err = a.server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-gctx.Done()
		drainCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return a.server.Shutdown(drainCtx)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		if a.otelStop != nil {
			if err := a.otelStop(ctx); err != nil {
				slog.Warn("telemetry shutdown error", "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
