package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ukpulse/pulseboard/internal/agent"
	"github.com/ukpulse/pulseboard/internal/api"
	"github.com/ukpulse/pulseboard/internal/config"
	"github.com/ukpulse/pulseboard/internal/events"
	"github.com/ukpulse/pulseboard/internal/health"
	"github.com/ukpulse/pulseboard/internal/metrics"
	"github.com/ukpulse/pulseboard/internal/prefs"
	"github.com/ukpulse/pulseboard/internal/pulse"
	"github.com/ukpulse/pulseboard/internal/storage"
	"github.com/ukpulse/pulseboard/web"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(2)
	}

	logger := newLogger(cfg.LogLevel)
	logConfig(logger, cfg)

	m := metrics.NewMetrics()

	store := openStore(cfg, logger)
	bus := events.NewBus(cfg.EventBuffer)

	client, err := agent.NewClient(cfg.RelayURL, agent.Options{
		Timeout:       cfg.QueryTimeout,
		RetryAttempts: cfg.QueryRetryAttempts,
		RetryBackoff:  cfg.QueryRetryBackoff,
		RateLimit:     cfg.QueryRateLimit,
		Burst:         cfg.QueryBurst,
		Logger:        logger.With("component", "agent"),
	})
	if err != nil {
		logger.Error("failed to create agent client", "err", err)
		os.Exit(2)
	}

	coordinator := pulse.NewCoordinator(client, store, bus, m, logger.With("component", "pulse"), pulse.CoordinatorOptions{
		QueryTimeout:    cfg.QueryTimeout,
		RefreshInterval: cfg.RefreshInterval,
	})

	sessions := pulse.NewSessions(client, bus, m, logger.With("component", "chat"), pulse.SessionOptions{
		QueryTimeout: cfg.QueryTimeout,
		TTL:          cfg.ChatSessionTTL,
	})

	prefStore := prefs.NewStore(cfg.PrefsFile)

	checker := health.NewChecker(cfg.RelayURL, cfg.HealthCheckInterval, cfg.HealthCheckTimeout, m, logger.With("component", "health"))

	assets, err := web.Assets()
	if err != nil {
		// The UI degrades to a 503; the JSON API still works.
		logger.Warn("embedded UI unavailable", "err", err)
		assets = nil
	}

	srv := api.NewServer(coordinator, sessions, prefStore, store, bus, checker, assets, logger.With("component", "api"))

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	coordinator.Start()
	sessions.Start()

	logger.Info("starting pulseboard", "listen", cfg.ListenAddr, "relay", cfg.RelayURL)

	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutting down")

	coordinator.Stop()
	sessions.Stop()
	checker.Shutdown()
	// Closing the bus ends the SSE streams so the HTTP drain below can finish.
	bus.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(ctx)

	if err := store.Close(); err != nil {
		logger.Warn("failed to close storage", "err", err)
	}
}

// openStore selects the cycle-history backend from config. A broken SQLite
// path degrades to the in-memory store rather than refusing to start.
func openStore(cfg config.Config, logger *slog.Logger) storage.Store {
	switch cfg.Storage {
	case config.StorageSQLite:
		store, err := storage.NewSQLiteStore(cfg.StoragePath, cfg.StorageMaxCycles, logger.With("component", "storage"))
		if err != nil {
			logger.Warn("failed to open sqlite store, falling back to memory", "path", cfg.StoragePath, "err", err)
			return storage.NewMemoryStore(cfg.StorageMaxCycles)
		}
		logger.Info("using sqlite storage", "path", cfg.StoragePath, "max_cycles", cfg.StorageMaxCycles)
		return store
	case config.StorageMemory:
		logger.Info("using in-memory storage", "max_cycles", cfg.StorageMaxCycles)
		return storage.NewMemoryStore(cfg.StorageMaxCycles)
	default:
		logger.Info("cycle history storage disabled")
		return storage.NewNopStore()
	}
}

func newLogger(level string) *slog.Logger {
	lvl := new(slog.LevelVar)
	switch level {
	case "debug":
		lvl.Set(slog.LevelDebug)
	case "info":
		lvl.Set(slog.LevelInfo)
	case "warn", "warning":
		lvl.Set(slog.LevelWarn)
	case "error":
		lvl.Set(slog.LevelError)
	default:
		lvl.Set(slog.LevelInfo)
	}

	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(h)
}

func logConfig(logger *slog.Logger, cfg config.Config) {
	logger.Info("configuration",
		"listen_addr", cfg.ListenAddr,
		"relay_url", cfg.RelayURL,
		"refresh_interval", cfg.RefreshInterval,
		"query_timeout", cfg.QueryTimeout,
		"query_retry_attempts", cfg.QueryRetryAttempts,
		"query_retry_backoff", cfg.QueryRetryBackoff,
		"query_rate_limit", cfg.QueryRateLimit,
		"query_burst", cfg.QueryBurst,
		"storage", string(cfg.Storage),
		"storage_path", cfg.StoragePath,
		"storage_max_cycles", cfg.StorageMaxCycles,
		"prefs_file", cfg.PrefsFile,
		"health_check_interval", cfg.HealthCheckInterval,
		"health_check_timeout", cfg.HealthCheckTimeout,
		"event_buffer", cfg.EventBuffer,
		"chat_session_ttl", cfg.ChatSessionTTL,
		"log_level", cfg.LogLevel,
	)
}
