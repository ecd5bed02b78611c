package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/som-shahlab/chart-review-with-llms/internal/api"
	"github.com/som-shahlab/chart-review-with-llms/internal/cache"
	"github.com/som-shahlab/chart-review-with-llms/internal/chat"
	"github.com/som-shahlab/chart-review-with-llms/internal/config"
	"github.com/som-shahlab/chart-review-with-llms/internal/events"
	"github.com/som-shahlab/chart-review-with-llms/internal/llm"
	"github.com/som-shahlab/chart-review-with-llms/internal/pool"
	"github.com/som-shahlab/chart-review-with-llms/internal/records"
)

func main() {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	slog.Info("chartd starting", "port", cfg.Port, "debug", cfg.Debug)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Patient-record stores. Only configured kinds are registered.
	defaultKind, err := records.ParseKind(cfg.DefaultStore)
	if err != nil {
		slog.Error("invalid DEFAULT_STORE", "value", cfg.DefaultStore, "error", err)
		os.Exit(1)
	}
	registry := records.NewRegistry(defaultKind)

	if cfg.MIMICNotesDir != "" {
		store, err := records.LoadMIMICStore(cfg.MIMICNotesDir, cfg.Debug, slog.Default())
		if err != nil {
			slog.Error("failed to load mimic store", "dir", cfg.MIMICNotesDir, "error", err)
			os.Exit(1)
		}
		registry.Register(records.KindMIMICIV, store)
	}
	if cfg.N2C2Dir != "" {
		store, err := records.LoadN2C2Store(cfg.N2C2Dir, cfg.Debug, slog.Default())
		if err != nil {
			slog.Error("failed to load n2c2 store", "dir", cfg.N2C2Dir, "error", err)
			os.Exit(1)
		}
		registry.Register(records.KindN2C2, store)
	}
	if cfg.DatabaseURL != "" {
		store, err := records.NewPGStore(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer store.Close()
		registry.Register(records.KindPostgres, store)
	}
	if len(registry.Kinds()) == 0 {
		slog.Error("no patient-record store configured")
		os.Exit(1)
	}
	slog.Info("stores ready", "kinds", registry.Kinds(), "default", defaultKind)

	// Model backend.
	if cfg.LLMAPIKey == "" {
		slog.Warn("LLM_API_KEY is empty, assuming a local backend")
	}
	audit := llm.NewAuditLog(cfg.AuditDir)
	backend := llm.NewClient(cfg.LLMBaseURL, cfg.LLMAPIKey, audit, slog.Default())
	slog.Info("llm client ready", "base_url", cfg.LLMBaseURL, "model", cfg.DefaultModel)

	// Response cache.
	responseCache := cache.New(cfg.CacheDir, slog.Default())

	// NATS is optional; the service runs fine without an event broker.
	var publisher *events.Publisher
	if cfg.NatsURL != "" {
		publisher, err = events.NewPublisher(cfg.NatsURL, cfg.NatsToken, slog.Default())
		if err != nil {
			slog.Error("failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer publisher.Close()
		slog.Info("NATS connected", "url", cfg.NatsURL)
	} else {
		slog.Warn("NATS not configured, running without event publishing")
	}

	service := chat.NewService(backend, responseCache, publisher, pool.FromConfig(cfg.Executor), chat.ServiceConfig{
		DefaultModel: cfg.DefaultModel,
		Backoff:      cfg.RetryBackoff,
		HitDelayMin:  cfg.CacheHitDelayMin,
		HitDelayMax:  cfg.CacheHitDelayMax,
	}, slog.Default())

	srv := api.NewServer(cfg.Port, service, registry, slog.Default())
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	slog.Info("chartd ready", "port", cfg.Port)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	slog.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown failed", "error", err)
	}
	slog.Info("chartd stopped")
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
