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
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ukpulse/pulseboard/internal/config"
	"github.com/ukpulse/pulseboard/internal/metrics"
	"github.com/ukpulse/pulseboard/internal/relay"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadRelay()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(2)
	}

	logger := newLogger(cfg.LogLevel)
	logConfig(logger, cfg)

	relayMetrics := metrics.NewRelayMetrics()

	handler, err := relay.NewHandler(cfg, relayMetrics, logger.With("component", "relay"))
	if err != nil {
		logger.Error("failed to create relay handler", "err", err)
		os.Exit(2)
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var adminSrv *http.Server
	if cfg.AdminAddr != "" {
		adminSrv = newAdminServer(cfg.AdminAddr)
		go func() {
			logger.Info("starting relay admin listener", "listen", cfg.AdminAddr)
			if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("admin server error", "err", err)
			}
		}()
	}

	logger.Info("starting pulse-relay", "listen", cfg.ListenAddr, "agent", cfg.AgentURL)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	if adminSrv != nil {
		_ = adminSrv.Shutdown(ctx)
	}
}

// newAdminServer serves /metrics and /healthz on a separate listener so the
// relay's public surface stays exactly OPTIONS + POST.
func newAdminServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
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

func logConfig(logger *slog.Logger, cfg config.RelayConfig) {
	logger.Info("configuration",
		"listen_addr", cfg.ListenAddr,
		"agent_url", cfg.AgentURL,
		"forward_path", cfg.ForwardPath,
		"forward_timeout", cfg.ForwardTimeout,
		"cors_allow_origin", cfg.CORSAllowOrigin,
		"allow_insecure", cfg.AllowInsecure,
		"admin_addr", cfg.AdminAddr,
		"log_level", cfg.LogLevel,
	)
}
