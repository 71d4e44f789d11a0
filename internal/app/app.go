// Package app wires all Hobbystreak subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the HTTP API until the context is cancelled, and
// Shutdown tears everything down in order.
//
// For testing, inject implementations via functional options
// (WithCommunityStore, WithMetrics, etc.) and [Providers]. When an option is
// not provided, New creates real implementations from the config.
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

	"github.com/Niranjan-reddy99/hobbystreak/internal/coach"
	"github.com/Niranjan-reddy99/hobbystreak/internal/community"
	"github.com/Niranjan-reddy99/hobbystreak/internal/config"
	"github.com/Niranjan-reddy99/hobbystreak/internal/health"
	"github.com/Niranjan-reddy99/hobbystreak/internal/observe"
	"github.com/Niranjan-reddy99/hobbystreak/internal/voice"
	"github.com/Niranjan-reddy99/hobbystreak/pkg/audio"
	"github.com/Niranjan-reddy99/hobbystreak/pkg/provider/llm"
	"github.com/Niranjan-reddy99/hobbystreak/pkg/provider/s2s"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

// ShutdownTimeout bounds the graceful HTTP shutdown in [App.Run].
const ShutdownTimeout = 15 * time.Second

// conversationSweepInterval is how often idle chat conversations are dropped.
const conversationSweepInterval = time.Minute

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	S2S s2s.Provider
	LLM llm.Provider

	// LLMName labels chat metrics (e.g. "gemini").
	LLMName string

	// Audio is required for voice sessions.
	Audio audio.Backend
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	log       *slog.Logger
	level     *slog.LevelVar
	metrics   *observe.Metrics
	scrape    http.Handler

	// Subsystems, initialised in New and torn down in Shutdown.
	voice       *SessionManager
	coach       *coach.Service
	communities community.Store
	checkers    []health.Checker

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithCommunityStore injects a community store instead of connecting to
// database.postgres_dsn.
func WithCommunityStore(s community.Store) Option {
	return func(a *App) { a.communities = s }
}

// WithLevelVar lets [App.ApplyConfig] adjust the log level of a logger built
// on lv.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithMetrics sets the metrics sink. The default is [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler sets the handler mounted at /metrics, normally
// [observe.Telemetry.MetricsHandler]. The default is promhttp.Handler.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.scrape = h }
}

// WithLogger sets the application logger. The default is [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Community store ───────────────────────────────────────────────
	if err := a.initCommunities(ctx); err != nil {
		return nil, fmt.Errorf("app: init communities: %w", err)
	}

	// ── 2. Text coach ────────────────────────────────────────────────────
	if c, ok := providers.LLM.(interface{ Check(context.Context) error }); ok {
		a.checkers = append(a.checkers, health.Checker{Name: "llm", Check: c.Check})
	}
	if providers.LLM != nil {
		name := providers.LLMName
		if name == "" {
			name = cfg.Providers.LLM.Name
		}
		a.coach = coach.New(providers.LLM, coachSettings(cfg.Coach),
			coach.WithLogger(a.log),
			coach.WithMetrics(a.metrics),
			coach.WithProviderName(name),
		)
	} else {
		a.log.Warn("no chat model configured; /v1/coach/chat is disabled")
	}

	// ── 3. Voice coach ───────────────────────────────────────────────────
	if providers.Audio == nil {
		return nil, errors.New("app: an audio backend is required")
	}
	a.voice = NewSessionManager(SessionManagerConfig{
		Voice:    voiceConfig(cfg),
		Backend:  providers.Audio,
		Provider: providers.S2S,
		Logger:   a.log,
		Metrics:  a.metrics,
	})

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initCommunities connects the PostgreSQL community store or uses an
// injected one.
func (a *App) initCommunities(ctx context.Context) error {
	if a.communities != nil {
		return nil
	}

	dsn := a.cfg.Database.PostgresDSN
	if dsn == "" {
		a.log.Warn("database.postgres_dsn is empty; community endpoints are disabled")
		return nil
	}

	pool, err := community.Open(ctx, dsn)
	if err != nil {
		return err
	}
	store := community.NewPostgresStore(pool)
	if err := store.Migrate(ctx); err != nil {
		pool.Close()
		return err
	}

	a.communities = store
	a.checkers = append(a.checkers, health.Ping("database", pool))
	a.closers = append(a.closers, func() error {
		pool.Close()
		return nil
	})
	return nil
}

// coachSettings converts the coach config into chat settings.
func coachSettings(c config.CoachConfig) coach.Settings {
	return coach.Settings{
		SystemPrompt:     c.SystemPrompt(),
		MaxHistory:       c.MaxHistory,
		MaxConversations: c.MaxConversations,
		IdleTTL:          c.ConversationTTL,
	}
}

// voiceConfig converts the config into live session settings.
func voiceConfig(cfg *config.Config) voice.Config {
	return voice.Config{
		APIKey:       cfg.Providers.S2S.APIKey,
		Model:        cfg.Providers.S2S.Model,
		Voice:        cfg.Coach.Voice,
		Instructions: cfg.Coach.Instructions,
	}
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Voice returns the voice session manager.
func (a *App) Voice() *SessionManager { return a.voice }

// Coach returns the text coach, or nil when no chat model is configured.
func (a *App) Coach() *coach.Service { return a.coach }

// ─── HTTP ────────────────────────────────────────────────────────────────────

// Handler returns the HTTP API wrapped in the tracing and metrics middleware.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()

	health.New(a.checkers...).Register(mux)
	if a.cfg.Telemetry.Metrics() {
		scrape := a.scrape
		if scrape == nil {
			scrape = promhttp.Handler()
		}
		mux.Handle("GET /metrics", scrape)
	}

	(&voiceHandler{sm: a.voice}).register(mux)
	if a.coach != nil {
		coach.NewHandler(a.coach).Register(mux)
	}
	if a.communities != nil {
		community.NewHandler(a.communities).Register(mux)
	}

	return observe.Middleware(a.metrics)(mux)
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run listens on server.listen_addr and serves until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen: %w", err)
	}
	return a.Serve(ctx, ln)
}

// Serve serves the API on ln until ctx is cancelled, then shuts the server
// down within [ShutdownTimeout]. A cancelled ctx is not an error.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.Info("http server listening", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = srv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	if a.coach != nil {
		g.Go(func() error {
			a.coach.Run(gctx, conversationSweepInterval)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("app: serve: %w", err)
	}
	return nil
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable differences between old and new:
// the log level and the coach persona. Other changes are logged as needing a
// restart.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.IsZero() {
		return
	}

	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.Level())
		a.log.Info("log level changed", "level", d.NewLogLevel)
	}

	if d.CoachChanged {
		a.voice.SetVoiceConfig(voiceConfig(new))
		if a.coach != nil {
			a.coach.SetSettings(coachSettings(d.Coach))
		}
		a.log.Info("coach settings reloaded", "voice", d.Coach.Voice)
	}

	for _, key := range d.RestartRequired {
		a.log.Warn("config change requires a restart", "key", key)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems. It respects the context deadline: if
// ctx expires before all closers finish, remaining closers are skipped and
// the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))

		// Hang up the live session first so devices are released.
		if err := a.voice.Stop(ctx); err != nil && !errors.Is(err, ErrNoSession) {
			a.log.Warn("voice stop error", "err", err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.log.Warn("closer error", "index", i, "err", err)
			}
		}

		a.log.Info("shutdown complete")
	})
	return shutdownErr
}
