// Command hobbystreak runs the Hobbystreak coach server.
//
// Usage:
//
//	hobbystreak [-config path] [serve|voice]
//
// "serve" (the default) exposes the HTTP API. "voice" starts a single live
// voice session on the configured audio devices and exits when it ends.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/Niranjan-reddy99/hobbystreak/internal/app"
	"github.com/Niranjan-reddy99/hobbystreak/internal/config"
	"github.com/Niranjan-reddy99/hobbystreak/internal/observe"
	"github.com/Niranjan-reddy99/hobbystreak/internal/resilience"
	"github.com/Niranjan-reddy99/hobbystreak/pkg/audio"
	"github.com/Niranjan-reddy99/hobbystreak/pkg/audio/device"
	"github.com/Niranjan-reddy99/hobbystreak/pkg/provider/llm"
	"github.com/Niranjan-reddy99/hobbystreak/pkg/provider/llm/anyllm"
	"github.com/Niranjan-reddy99/hobbystreak/pkg/provider/s2s"
	geminilive "github.com/Niranjan-reddy99/hobbystreak/pkg/provider/s2s/gemini"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	fs := flag.NewFlagSet("hobbystreak", flag.ContinueOnError)
	configPath := fs.String("config", "config.yaml", "path to the YAML configuration file")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	mode := fs.Arg(0)
	if mode == "" {
		mode = "serve"
	}
	if mode != "serve" && mode != "voice" {
		fmt.Fprintf(os.Stderr, "hobbystreak: unknown command %q (want serve or voice)\n", mode)
		return 2
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "hobbystreak: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "hobbystreak: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.Level())
	logger := newLogger(os.Stderr, level, cfg.Server.LogFormat)
	slog.SetDefault(logger)

	slog.Info("hobbystreak starting",
		"version", version,
		"mode", mode,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	telemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		MetricsEnabled: cfg.Telemetry.Metrics(),
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		if err := telemetry.Shutdown(context.Background()); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}
	if c, ok := providers.Audio.(io.Closer); ok {
		defer c.Close()
	}

	printStartupSummary(os.Stdout, cfg)

	application, err := app.New(ctx, cfg, providers,
		app.WithLogger(logger),
		app.WithLevelVar(level),
		app.WithMetrics(telemetry.Metrics),
		app.WithMetricsHandler(telemetry.MetricsHandler()),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Hot reload ────────────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, application.ApplyConfig, config.WithWatcherLogger(logger))
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	code := 0
	switch mode {
	case "voice":
		code = runVoice(ctx, application)
	default:
		slog.Info("server ready, press Ctrl+C to shut down")
		if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("run error", "err", err)
			code = 1
		}
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), app.ShutdownTimeout)
	defer cancel()

	slog.Info("stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return code
}

// runVoice holds one live voice session open until the remote side hangs up
// or ctx is cancelled.
func runVoice(ctx context.Context, a *app.App) int {
	info, err := a.Voice().Start(ctx, "cli")
	if err != nil {
		slog.Error("voice session failed", "err", err)
		return 1
	}
	slog.Info("voice session running, press Ctrl+C to hang up", "session_id", info.SessionID, "voice", info.Voice)

	select {
	case <-a.Voice().Closed():
		if last := a.Voice().Info().LastError; last != "" {
			slog.Error("voice session ended with error", "err", last)
			return 1
		}
		slog.Info("voice session ended by the coach")
	case <-ctx.Done():
		if err := a.Voice().Stop(context.Background()); err != nil && !errors.Is(err, app.ErrNoSession) {
			slog.Warn("voice stop error", "err", err)
		}
	}
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// anyllmProviders are the chat backends served through any-llm-go that take
// an optional API key and base URL.
var anyllmProviders = []string{
	"openai", "anthropic", "gemini",
	"deepseek", "mistral", "groq", "llamacpp", "llamafile",
}

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	for _, providerName := range anyllmProviders {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			p, err := anyllm.New(providerName, entry.Model, opts...)
			if err != nil {
				return nil, err
			}
			return p, nil
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		p, err := anyllm.New("ollama", entry.Model, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	// ── S2S ───────────────────────────────────────────────────────────────────
	reg.RegisterS2S("gemini-live", func(entry config.ProviderEntry) (s2s.Provider, error) {
		opts := []geminilive.Option{geminilive.WithLogger(slog.Default())}
		if entry.Model != "" {
			opts = append(opts, geminilive.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, geminilive.WithBaseURL(entry.BaseURL))
		}
		p, err := geminilive.New(entry.APIKey, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	// ── Audio ─────────────────────────────────────────────────────────────────
	reg.RegisterAudio(config.AudioNull, func(c config.AudioConfig) (audio.Backend, error) {
		return device.NewNull(device.WithBlockSize(c.BlockSize)), nil
	})
	reg.RegisterAudio(config.AudioPortAudio, func(c config.AudioConfig) (audio.Backend, error) {
		pa, err := device.NewPortAudio(device.WithBlockSize(c.BlockSize))
		if err != nil {
			return nil, err
		}
		return pa, nil
	})

	slog.Debug("registered providers", "llm", reg.LLMNames(), "s2s", config.ValidProviderNames["s2s"])
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to consume.
//
// A voice provider without an API key is not fatal: the chat coach and the
// community API still work, and voice sessions report the missing credential.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	if name := cfg.Providers.LLM.Name; name != "" {
		chat, err := buildChat(cfg.Providers, reg)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("unknown chat provider, text coach disabled", "err", err)
		} else if err != nil {
			return nil, err
		} else {
			ps.LLM = chat
			ps.LLMName = name
			slog.Info("provider created", "kind", "llm", "name", name, "fallbacks", len(cfg.Providers.LLMFallbacks))
		}
	}

	if name := cfg.Providers.S2S.Name; name != "" {
		p, err := reg.CreateS2S(cfg.Providers.S2S)
		switch {
		case errors.Is(err, geminilive.ErrMissingAPIKey):
			slog.Warn("voice provider has no API key, voice sessions will fail", "name", name)
		case errors.Is(err, config.ErrProviderNotRegistered):
			slog.Warn("unknown voice provider, falling back to gemini-live", "name", name)
		case err != nil:
			return nil, fmt.Errorf("create s2s provider %q: %w", name, err)
		default:
			ps.S2S = p
			slog.Info("provider created", "kind", "s2s", "name", name)
		}
	}

	backend, err := reg.CreateAudio(cfg.Audio)
	if err != nil {
		return nil, fmt.Errorf("create audio backend %q: %w", cfg.Audio.Backend, err)
	}
	ps.Audio = backend
	slog.Info("provider created", "kind", "audio", "name", cfg.Audio.Backend)

	return ps, nil
}

// buildChat creates the primary chat model and its fallbacks and puts each
// behind a circuit breaker.
func buildChat(pc config.ProvidersConfig, reg *config.Registry) (*resilience.Chat, error) {
	entries := append([]config.ProviderEntry{pc.LLM}, pc.LLMFallbacks...)
	backends := make([]resilience.Backend[llm.Provider], 0, len(entries))
	for _, entry := range entries {
		p, err := reg.CreateLLM(entry)
		if err != nil {
			return nil, fmt.Errorf("create llm provider %q: %w", entry.Name, err)
		}
		name := entry.Name
		if entry.Model != "" {
			name += "/" + entry.Model
		}
		backends = append(backends, resilience.Backend[llm.Provider]{Name: name, Value: p})
	}

	metrics := observe.DefaultMetrics()
	return resilience.NewChat(resilience.BreakerConfig{
		Logger: slog.Default(),
		OnStateChange: func(name string, to resilience.State) {
			metrics.RecordBreakerTransition(context.Background(), name, to.String())
		},
	}, backends...), nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(w, "║      Hobbystreak · startup summary    ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════╣")
	printProvider(w, "Voice", cfg.Providers.S2S.Name, cfg.Providers.S2S.Model)
	printProvider(w, "Chat", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider(w, "Audio", string(cfg.Audio.Backend), "")
	fmt.Fprintf(w, "║  Coach voice     : %-19s ║\n", cfg.Coach.Voice)
	if cfg.Database.PostgresDSN != "" {
		fmt.Fprintf(w, "║  Communities     : %-19s ║\n", "postgres")
	} else {
		fmt.Fprintf(w, "║  Communities     : %-19s ║\n", "(disabled)")
	}
	if cfg.Server.ListenAddr != "" {
		fmt.Fprintf(w, "║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Fprintln(w, "╚═══════════════════════════════════════╝")
}

func printProvider(w io.Writer, kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Fprintf(w, "║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

// newLogger builds the process logger. level may be adjusted later by the
// config watcher.
func newLogger(w io.Writer, level *slog.LevelVar, format config.LogFormat) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == config.LogFormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
