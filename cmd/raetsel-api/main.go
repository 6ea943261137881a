package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"raetsel/internal/api"
	"raetsel/internal/config"
	"raetsel/internal/cooldown"
	"raetsel/internal/logging"
	"raetsel/internal/metrics"
	"raetsel/internal/progress"
	"raetsel/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadAPIFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := logging.Setup("raetsel-api", cfg.Env, cfg.LogLevel)
	m := metrics.New()

	kv, err := store.Open(ctx, cfg.Store, m, logger)
	if err != nil {
		logger.Error("store open failed", "backend", cfg.Store.Backend, "err", err)
		os.Exit(1)
	}
	defer kv.Close()

	progressSvc, err := progress.NewService(kv, logger, progress.Options{
		WeekZone:         cfg.WeekZone,
		SpecialNamespace: cfg.SpecialNamespace,
		Namespaces:       cfg.Namespaces,
		SerializePerUser: cfg.SerializePerUser,
		Recorder:         m,
	})
	if err != nil {
		logger.Error("progress service init failed", "err", err)
		os.Exit(1)
	}

	server := api.New(cfg, logger, progressSvc, cooldown.NewService(kv, logger), m)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("raetsel api listening", "addr", cfg.Addr, "store", cfg.Store.Backend, "week_zone", cfg.WeekZone)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
	logger.Info("raetsel api stopped")
}
