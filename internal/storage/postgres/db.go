// Package postgres is the PostgreSQL backend: every lifecycle store, the audit
// chain and the audit outbox in one database, so a unit of work is one SQL
// transaction.
//
// Rows that a unit of work changes are read with SELECT ... FOR UPDATE. The
// uniqueness rules the engine depends on (one asset per deal, one OPEN alert
// per obligation, one obligation per asset/type/period) are database
// constraints; violations surface as sentinel.ErrConflict.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"fundops/internal/audit"
	"fundops/internal/audit/outbox"
	"fundops/internal/lifecycle/service"
	"fundops/internal/platform/config"
	dErrors "fundops/pkg/domain-errors"
	"fundops/pkg/platform/sentinel"
	txcontext "fundops/pkg/platform/tx"
)

const (
	defaultTxTimeout = 5 * time.Second
	uniqueViolation  = "23505"
)

var (
	_ service.Backend = (*DB)(nil)
	_ audit.Store      = (*DB)(nil)
	_ outbox.Source    = (*DB)(nil)
)

// DB is the PostgreSQL backend.
type DB struct {
	db      *sql.DB
	timeout time.Duration
}

type Option func(*DB)

// WithTxTimeout bounds units of work started without a deadline.
func WithTxTimeout(d time.Duration) Option {
	return func(db *DB) {
		if d > 0 {
			db.timeout = d
		}
	}
}

func New(db *sql.DB, opts ...Option) *DB {
	d := &DB{db: db, timeout: defaultTxTimeout}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Open connects with the pgx stdlib driver and applies the pool settings.
func Open(ctx context.Context, cfg config.Database) (*sql.DB, error) {
	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Health checks database connectivity.
func (d *DB) Health(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// RunInTx runs fn in one transaction. A nested call joins the outer one.
func (d *DB) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if txcontext.InTx(ctx) {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(txcontext.WithTx(ctx, tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted before commit")
		}
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// q returns the transaction in ctx, or the pool.
func (d *DB) q(ctx context.Context) txcontext.Querier {
	return txcontext.Q(ctx, d.db)
}

// mapErr turns driver facts into sentinels.
func mapErr(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return sentinel.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%s: %w", op, sentinel.ErrConflict)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// execute locks one row, validates and mutates it, then saves it, all in
// the caller's unit of work (or one of its own).
func execute[T any](ctx context.Context, d *DB, op string,
	load func(ctx context.Context, q txcontext.Querier) (*T, error),
	validate func(*T) error, mutate func(*T),
	save func(ctx context.Context, q txcontext.Querier, v *T) error) (*T, error) {
	var out *T
	err := d.RunInTx(ctx, func(ctx context.Context) error {
		q := d.q(ctx)
		v, err := load(ctx, q)
		if err != nil {
			return mapErr(err, op)
		}
		if err := validate(v); err != nil {
			return err
		}
		mutate(v)
		if err := save(ctx, q, v); err != nil {
			return mapErr(err, op)
		}
		out = v
		return nil
	})
	return out, err
}

// nullID converts an optional typed id for a nullable UUID column.
func nullID[T ~[16]byte](p *T) uuid.NullUUID {
	if p == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: uuid.UUID(*p), Valid: true}
}

// fromNullID is the inverse of nullID.
func fromNullID[T ~[16]byte](n uuid.NullUUID) *T {
	if !n.Valid {
		return nil
	}
	v := T(n.UUID)
	return &v
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// collect scans every row with scan.
func collect[T any](rows *sql.Rows, scan func(rowScanner) (*T, error)) ([]*T, error) {
	defer rows.Close()
	var out []*T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
