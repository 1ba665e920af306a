// Command voxleaf is the main entry point for the voxleaf voice
// orchestration server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/voxleaf/voxleaf/internal/app"
	"github.com/voxleaf/voxleaf/internal/config"
)

// shutdownTimeout bounds the graceful teardown after a stop signal.
const shutdownTimeout = 15 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxleaf: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxleaf: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.Server.LogLevel.SlogLevel(),
	}))
	slog.SetDefault(logger)

	slog.Info("voxleaf starting",
		"config", *configPath,
		"ws_addr", cfg.Server.WSAddr,
		"http_addr", cfg.Server.HTTPAddr,
		"log_level", cfg.Server.LogLevel,
	)
	printStartupSummary(cfg)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, app.WithLogger(logger))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// Run shuts the app down on signal; this covers listener failures.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// printStartupSummary logs one line per configured subsystem so a glance at
// the startup output shows what this instance will actually do.
func printStartupSummary(cfg *config.Config) {
	printProvider("asr", cfg.Providers.ASR.Name, cfg.Providers.ASR.Model)
	if cfg.Providers.ASRFallback != nil {
		printProvider("asr_fallback", cfg.Providers.ASRFallback.Name, cfg.Providers.ASRFallback.Model)
	}
	printProvider("tts", cfg.Providers.TTS.Name, cfg.Providers.TTS.Voice)
	if cfg.Providers.TTSFallback != nil {
		printProvider("tts_fallback", cfg.Providers.TTSFallback.Name, cfg.Providers.TTSFallback.Voice)
	}
	printProvider("llm", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)

	slog.Info("store backends",
		"catalog", backendName(cfg.Stores.PostgresDSN, "postgres"),
		"queue", backendName(cfg.Stores.RedisAddr, "redis"),
		"conversations", backendName(cfg.Stores.RedisAddr, "redis"),
	)
}

func printProvider(kind, name, detail string) {
	if name == "" {
		slog.Info("provider disabled", "kind", kind)
		return
	}
	slog.Info("provider configured", "kind", kind, "name", name, "detail", detail)
}

func backendName(setting, backend string) string {
	if setting == "" {
		return "memory"
	}
	return backend
}
