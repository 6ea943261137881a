package store

import (
	"context"
	"fmt"
	"log/slog"

	"raetsel/internal/config"
	"raetsel/internal/db"
)

// Open connects the backend named in cfg, prepares its schema where it has
// one, and wraps it with the per-call timeout and obs.
func Open(ctx context.Context, cfg config.StoreConfig, obs Observer, logger *slog.Logger) (KV, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var kv KV
	switch cfg.Backend {
	case config.StoreUpstash:
		kv = NewUpstash(cfg.UpstashURL, cfg.UpstashToken)
	case config.StoreRedis:
		r, err := DialRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		kv = r
	case config.StorePostgres:
		pool, err := db.Connect(ctx, cfg.DatabaseURL, cfg.MaxConns)
		if err != nil {
			return nil, err
		}
		pg := NewPostgres(pool)
		if err := pg.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		kv = pg
	case config.StoreSQLite:
		sqlDB, err := db.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		lite := NewSQLite(sqlDB)
		if err := lite.Migrate(ctx); err != nil {
			_ = sqlDB.Close()
			return nil, err
		}
		kv = lite
	case config.StoreMemory:
		kv = NewMemory()
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}

	logger.Info("store opened", "backend", cfg.Backend, "timeout", cfg.Timeout)
	return Instrument(WithTimeout(kv, cfg.Timeout), obs), nil
}
