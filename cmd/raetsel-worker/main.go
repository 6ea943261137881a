package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"raetsel/internal/config"
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

	logger := logging.Setup("raetsel-worker", cfg.Env, cfg.LogLevel)
	m := metrics.New()

	kv, err := store.Open(ctx, cfg.Store, m, logger)
	if err != nil {
		logger.Error("store open failed", "backend", cfg.Store.Backend, "err", err)
		os.Exit(1)
	}
	defer kv.Close()

	svc, err := progress.NewService(kv, logger, progress.Options{
		WeekZone:         cfg.WeekZone,
		SpecialNamespace: cfg.SpecialNamespace,
		Namespaces:       cfg.Namespaces,
	})
	if err != nil {
		logger.Error("progress service init failed", "err", err)
		os.Exit(1)
	}

	refresh := func() error {
		stats, err := svc.GlobalStats(ctx, false, 0)
		m.RefreshDone(time.Now(), err)
		if err != nil {
			return err
		}
		m.PublishGlobal(stats)
		logger.Info("global counters refreshed", "generated", stats.Generated, "completed", stats.Completed)
		return nil
	}

	runOnce := strings.EqualFold(strings.TrimSpace(os.Getenv("RAETSEL_WORKER_RUN_ONCE")), "true")
	if runOnce {
		if err := refresh(); err != nil {
			logger.Error("refresh failed", "err", err)
			os.Exit(1)
		}
		logger.Info("worker run-once completed")
		return
	}

	metricsServer := &http.Server{
		Addr:              cfg.WorkerMetrics,
		Handler:           m.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", "err", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	if err := refresh(); err != nil {
		logger.Error("refresh failed", "err", err)
	}

	ticker := time.NewTicker(cfg.StatsTickEvery)
	defer ticker.Stop()

	logger.Info("worker started", "tick_every", cfg.StatsTickEvery.String(), "metrics_addr", cfg.WorkerMetrics)
	for {
		select {
		case <-ctx.Done():
			logger.Info("worker shutdown")
			return
		case <-ticker.C:
			if err := refresh(); err != nil {
				logger.Error("refresh failed", "err", err)
			}
		}
	}
}
