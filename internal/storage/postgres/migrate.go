package postgres

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate applies pending migrations in file-name order, each in its own
// transaction, recording them in schema_migrations.
func (d *DB) Migrate(ctx context.Context, logger *slog.Logger) error {
	if _, err := d.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename   TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	files, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(files)

	applied := 0
	for _, file := range files {
		name := file[len("migrations/"):]
		var exists bool
		if err := d.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE filename = $1)`, name).Scan(&exists); err != nil {
			return fmt.Errorf("migration lookup: %w", err)
		}
		if exists {
			continue
		}
		body, err := migrations.ReadFile(file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		err = d.RunInTx(ctx, func(ctx context.Context) error {
			q := d.q(ctx)
			if _, err := q.ExecContext(ctx, string(body)); err != nil {
				return fmt.Errorf("apply migration %s: %w", name, err)
			}
			if _, err := q.ExecContext(ctx, `INSERT INTO schema_migrations (filename) VALUES ($1)`, name); err != nil {
				return fmt.Errorf("mark migration %s: %w", name, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
		applied++
		logger.InfoContext(ctx, "applied migration", "file", name)
	}
	logger.InfoContext(ctx, "migrations complete", "applied", applied, "total", len(files))
	return nil
}
