// Package app wires all voxleaf subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the device websocket and the health endpoint
// until the context is cancelled, and Shutdown tears everything down in
// order.
//
// For testing, inject doubles via functional options (WithCatalog,
// WithASR, etc.). When an option is not provided, New creates real
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

	"github.com/voxleaf/voxleaf/internal/config"
	"github.com/voxleaf/voxleaf/internal/coordinator"
	"github.com/voxleaf/voxleaf/internal/health"
	"github.com/voxleaf/voxleaf/internal/hub"
	"github.com/voxleaf/voxleaf/internal/observe"
	"github.com/voxleaf/voxleaf/internal/pipeline"
	"github.com/voxleaf/voxleaf/internal/proto"
	"github.com/voxleaf/voxleaf/internal/resilience"
	"github.com/voxleaf/voxleaf/pkg/catalog"
	"github.com/voxleaf/voxleaf/pkg/catalog/memstore"
	"github.com/voxleaf/voxleaf/pkg/catalog/postgres"
	"github.com/voxleaf/voxleaf/pkg/convstore"
	"github.com/voxleaf/voxleaf/pkg/convstore/redisconv"
	"github.com/voxleaf/voxleaf/pkg/playqueue"
	"github.com/voxleaf/voxleaf/pkg/playqueue/redisqueue"
	"github.com/voxleaf/voxleaf/pkg/provider/asr"
	"github.com/voxleaf/voxleaf/pkg/provider/llm"
	"github.com/voxleaf/voxleaf/pkg/provider/tts"
)

// shutdownGrace bounds how long Run waits for in-flight HTTP exchanges
// when its context is cancelled.
const shutdownGrace = 10 * time.Second

// App owns all subsystem lifetimes and serves the voice orchestrator.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	metrics  *observe.Metrics
	registry *config.Registry

	// Stores and providers. Injected via options or built from config.
	catalog       catalog.Store
	queue         playqueue.Store
	conversations convstore.Store
	asr           asr.Provider
	tts           tts.Provider
	llm           llm.Provider

	pipeline   *pipeline.Pipeline
	hub        *hub.Hub
	wsServer   *http.Server
	httpServer *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithLogger injects a logger instead of using the process default.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.logger = l }
}

// WithMetrics injects metrics instead of initialising a telemetry provider.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithRegistry injects a provider registry instead of the built-in one.
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithCatalog injects a content catalog instead of creating one from config.
func WithCatalog(s catalog.Store) Option {
	return func(a *App) { a.catalog = s }
}

// WithQueue injects a play queue store instead of creating one from config.
func WithQueue(s playqueue.Store) Option {
	return func(a *App) { a.queue = s }
}

// WithConversations injects a conversation store instead of creating one
// from config.
func WithConversations(s convstore.Store) Option {
	return func(a *App) { a.conversations = s }
}

// WithASR injects a transcription provider instead of creating one from
// config.
func WithASR(p asr.Provider) Option {
	return func(a *App) { a.asr = p }
}

// WithTTS injects a synthesis provider instead of creating one from config.
func WithTTS(p tts.Provider) Option {
	return func(a *App) { a.tts = p }
}

// WithLLM injects a chat provider instead of creating one from config.
func WithLLM(p llm.Provider) Option {
	return func(a *App) { a.llm = p }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together: telemetry, stores,
// providers, the turn pipeline, the device coordinator and the connection
// hub. Use Option functions to inject test doubles for any subsystem.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	if a.registry == nil {
		a.registry = config.DefaultRegistry()
	}

	if err := a.initMetrics(ctx); err != nil {
		return nil, fmt.Errorf("app: init metrics: %w", err)
	}
	if err := a.initStores(ctx); err != nil {
		return nil, fmt.Errorf("app: init stores: %w", err)
	}
	if err := a.initProviders(); err != nil {
		return nil, fmt.Errorf("app: init providers: %w", err)
	}

	a.pipeline = pipeline.New(pipeline.Options{
		ASR:           a.asr,
		TTS:           a.tts,
		LLM:           a.llm,
		Catalog:       a.catalog,
		Queue:         a.queue,
		Conversations: a.conversations,
		Metrics:       a.metrics,
		Logger:        a.logger,
		Format: asr.AudioFormat{
			SampleRate: cfg.Audio.SampleRate,
			Channels:   1,
		},
		PendingTimeout: cfg.PendingTimeout(),
	})

	coord := coordinator.New(a.pipeline, a.catalog, a.queue, a.metrics, a.logger, coordinator.Config{
		WakeTimeout:         cfg.WakeTimeout(),
		InstructionDebounce: cfg.InstructionDebounce(),
		AutoPlayGuard:       cfg.AutoPlayGuard(),
		CaptureDevice:       cfg.Audio.CaptureDevice,
	})

	a.hub = hub.New(coord, cfg.EndpointerConfig(), a.logger, a.metrics)

	mux := http.NewServeMux()
	checks := health.New(
		health.CatalogChecker(a.catalog),
		health.QueueChecker(a.queue),
	)
	checks.Register(mux)

	a.wsServer = &http.Server{
		Addr:    cfg.Server.WSAddr,
		Handler: a.hub,
	}
	a.httpServer = &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: observe.Middleware(a.metrics)(mux),
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initMetrics sets up the global telemetry provider unless metrics were
// injected.
func (a *App) initMetrics(ctx context.Context) error {
	if a.metrics != nil {
		return nil
	}

	stop, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return stop(shutdownCtx)
	})

	m, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		return err
	}
	a.metrics = m
	return nil
}

// initStores connects the catalog, play queue and conversation stores.
// Stores without connection settings run in memory.
func (a *App) initStores(ctx context.Context) error {
	if a.catalog == nil {
		if dsn := a.cfg.Stores.PostgresDSN; dsn != "" {
			store, err := postgres.NewStore(ctx, dsn)
			if err != nil {
				return fmt.Errorf("connect catalog: %w", err)
			}
			a.catalog = store
			a.closers = append(a.closers, func() error {
				store.Close()
				return nil
			})
			a.logger.Info("catalog store connected", "backend", "postgres")
		} else {
			a.catalog = memstore.New()
			a.logger.Info("catalog store running in memory")
		}
	}

	redisCfg := a.cfg.Stores
	if a.queue == nil {
		if redisCfg.RedisAddr != "" {
			store, err := redisqueue.New(ctx, redisqueue.Config{
				Addr:     redisCfg.RedisAddr,
				Password: redisCfg.RedisPassword,
				DB:       redisCfg.RedisDB,
			})
			if err != nil {
				return fmt.Errorf("connect play queue: %w", err)
			}
			a.queue = store
			a.closers = append(a.closers, store.Close)
			a.logger.Info("play queue store connected", "backend", "redis")
		} else {
			a.queue = playqueue.NewMemory()
			a.logger.Info("play queue store running in memory")
		}
	}

	if a.conversations == nil {
		if redisCfg.RedisAddr != "" {
			store, err := redisconv.New(ctx, redisconv.Config{
				Addr:     redisCfg.RedisAddr,
				Password: redisCfg.RedisPassword,
				DB:       redisCfg.RedisDB,
			})
			if err != nil {
				return fmt.Errorf("connect conversation store: %w", err)
			}
			a.conversations = store
			a.closers = append(a.closers, store.Close)
		} else {
			a.conversations = convstore.NewMemory()
		}
	}

	return nil
}

// initProviders builds the configured ASR, TTS and LLM providers, wrapping
// each in a fallback group when a secondary is configured. Absent providers
// stay nil; the pipeline degrades to a spoken apology without them.
func (a *App) initProviders() error {
	entries := a.cfg.Providers

	if a.asr == nil && entries.ASR.Name != "" {
		primary, err := a.registry.CreateASR(entries.ASR)
		if err != nil {
			return fmt.Errorf("create asr provider: %w", err)
		}
		a.asr = primary
		if entries.ASRFallback != nil {
			secondary, err := a.registry.CreateASR(*entries.ASRFallback)
			if err != nil {
				return fmt.Errorf("create asr fallback: %w", err)
			}
			group := resilience.NewASRFallback(primary, entries.ASR.Name, resilience.FallbackConfig{})
			group.AddFallback(entries.ASRFallback.Name, secondary)
			a.asr = group
		}
		a.logger.Info("asr provider ready", "name", entries.ASR.Name)
	}

	if a.tts == nil && entries.TTS.Name != "" {
		primary, err := a.registry.CreateTTS(entries.TTS)
		if err != nil {
			return fmt.Errorf("create tts provider: %w", err)
		}
		a.tts = primary
		if entries.TTSFallback != nil {
			secondary, err := a.registry.CreateTTS(*entries.TTSFallback)
			if err != nil {
				return fmt.Errorf("create tts fallback: %w", err)
			}
			group := resilience.NewTTSFallback(primary, entries.TTS.Name, resilience.FallbackConfig{})
			group.AddFallback(entries.TTSFallback.Name, secondary)
			a.tts = group
		}
		a.logger.Info("tts provider ready", "name", entries.TTS.Name)
	}

	if a.llm == nil && entries.LLM.Name != "" {
		primary, err := a.registry.CreateLLM(entries.LLM)
		if err != nil {
			return fmt.Errorf("create llm provider: %w", err)
		}
		a.llm = primary
		if entries.LLMFallback != nil {
			secondary, err := a.registry.CreateLLM(*entries.LLMFallback)
			if err != nil {
				return fmt.Errorf("create llm fallback: %w", err)
			}
			group := resilience.NewLLMFallback(primary, entries.LLM.Name, resilience.FallbackConfig{})
			group.AddFallback(entries.LLMFallback.Name, secondary)
			a.llm = group
		}
		a.logger.Info("llm provider ready", "name", entries.LLM.Name, "model", entries.LLM.Model)
	}

	return nil
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Hub exposes the connection hub, mainly for tests that dial the websocket
// endpoint directly.
func (a *App) Hub() *hub.Hub {
	return a.hub
}

// Run serves the device websocket endpoint and the health/metrics endpoint
// until ctx is cancelled or a listener fails. On cancellation it performs a
// full Shutdown before returning.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("device endpoint listening", "addr", a.wsServer.Addr)
		if err := a.wsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: device endpoint: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		a.logger.Info("health endpoint listening", "addr", a.httpServer.Addr)
		if err := a.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: health endpoint: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return a.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops accepting connections, asks every device to stop playback,
// closes all sessions and runs the closers in order. Safe to call more than
// once; only the first call does the work.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.logger.Info("shutting down", "sessions", a.hub.Len(), "closers", len(a.closers))

		// Devices keep playing on their own; tell them to stop before the
		// connections go away.
		a.hub.Broadcast(ctx, proto.CmdStopPlay, nil)
		a.hub.CloseAll()

		if err := a.wsServer.Shutdown(ctx); err != nil {
			a.logger.Warn("device endpoint shutdown", "error", err)
		}
		if err := a.httpServer.Shutdown(ctx); err != nil {
			a.logger.Warn("health endpoint shutdown", "error", err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.logger.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.logger.Warn("closer error", "index", i, "error", err)
			}
		}

		a.logger.Info("shutdown complete")
	})
	return shutdownErr
}
