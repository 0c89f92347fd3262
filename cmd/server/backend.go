package main

import (
	"context"
	"log/slog"

	"fundops/internal/audit"
	"fundops/internal/audit/outbox"
	"fundops/internal/lifecycle/sections"
	"fundops/internal/lifecycle/service"
	"fundops/internal/platform/config"
	"fundops/internal/storage/memory"
	"fundops/internal/storage/postgres"
)

// backend is everything the engine persists to: the lifecycle stores, the
// audit chain, the outbox and the section read model.
type backend interface {
	service.Backend
	audit.Store
	outbox.Source
	sections.Reader
}

type storage struct {
	backend
	health func(context.Context) error
	close  func() error
}

// openStorage picks PostgreSQL when a URL is configured and the in-memory
// store otherwise.
func openStorage(ctx context.Context, cfg config.Database, logger *slog.Logger) (*storage, error) {
	if cfg.URL == "" {
		logger.WarnContext(ctx, "DATABASE_URL not set, using the in-memory backend")
		return &storage{
			backend: memory.New(),
			health:  func(context.Context) error { return nil },
			close:   func() error { return nil },
		}, nil
	}
	sqlDB, err := postgres.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	db := postgres.New(sqlDB, postgres.WithTxTimeout(cfg.TxTimeout))
	if err := db.Migrate(ctx, logger); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return &storage{backend: db, health: db.Health, close: sqlDB.Close}, nil
}
