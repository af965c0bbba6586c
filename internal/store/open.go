package store

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/vladislavfirsov/content-pipeline/config"
	"github.com/vladislavfirsov/content-pipeline/contracts"
	"github.com/vladislavfirsov/content-pipeline/internal/logger"
)

// Open creates the JobStore selected by cfg.Backend.
func Open(ctx context.Context, cfg config.StoreConfig, log *zap.Logger) (contracts.JobStore, error) {
	if log == nil {
		log = zap.NewNop()
	}
	opts := []Option{WithLogger(log.Named("store"))}

	switch cfg.Backend {
	case "memory", "":
		return NewMemory(opts...), nil
	case "file":
		return NewFile(cfg.File.Dir, opts...)
	case "sql":
		return NewSQL(SQLOptions{
			Driver:          cfg.SQL.Driver,
			DSN:             cfg.SQL.DSN,
			MaxIdleConns:    cfg.SQL.MaxIdleConns,
			MaxOpenConns:    cfg.SQL.MaxOpenConns,
			ConnMaxLifetime: cfg.SQL.ConnMaxLifetime,
			Logger:          logger.NewGormLogger(log, cfg.SQL.LogLevel),
		}, opts...)
	case "redis":
		return NewRedis(ctx, RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		}, opts...)
	default:
		return nil, fmt.Errorf("store backend %q: %w", cfg.Backend, config.ErrUnknownStoreBackend)
	}
}
