package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// queueLockKey identifies the advisory lock taken by LockQueue.
const queueLockKey = 0x7974_7175 // "ytqu"

// Postgres stores records in PostgreSQL through a pgx pool.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// OpenPostgres applies migrations and connects to the database at dsn.
func OpenPostgres(ctx context.Context, dsn string, logger *slog.Logger) (*Postgres, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is empty")
	}
	if err := migratePostgres(dsn, logger); err != nil {
		return nil, err
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	logger.Info("PostgreSQL store opened",
		slog.String("host", poolCfg.ConnConfig.Host),
		slog.String("database", poolCfg.ConnConfig.Database),
	)
	return &Postgres{pool: pool, logger: logger}, nil
}

// migrateURL converts a postgres:// DSN into the pgx5:// form golang-migrate expects.
func migrateURL(dsn string) string {
	for _, prefix := range []string{"postgresql://", "postgres://"} {
		if strings.HasPrefix(dsn, prefix) {
			return "pgx5://" + strings.TrimPrefix(dsn, prefix)
		}
	}
	return dsn
}

func migratePostgres(dsn string, logger *slog.Logger) error {
	source, err := iofs.New(migrationsFS, "migrations/postgres")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, migrateURL(dsn))
	if err != nil {
		return fmt.Errorf("failed to init migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, dirty, _ := m.Version()
	logger.Info("PostgreSQL migrations applied",
		slog.Uint64("version", uint64(version)),
		slog.Bool("dirty", dirty),
	)
	return nil
}

func (p *Postgres) Update(ctx context.Context, fn func(tx Tx) error) error {
	return p.run(ctx, pgx.TxOptions{}, fn)
}

func (p *Postgres) View(ctx context.Context, fn func(tx Tx) error) error {
	return p.run(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly}, fn)
}

func (p *Postgres) run(ctx context.Context, opts pgx.TxOptions, fn func(tx Tx) error) error {
	tx, err := p.pool.BeginTx(ctx, opts)
	if err != nil {
		return wrap("begin", err)
	}

	t := &sqlTx{
		ctx:       ctx,
		db:        pgDBTX{tx},
		bind:      rebind,
		lockQuery: fmt.Sprintf("SELECT pg_advisory_xact_lock(%d)", queueLockKey),
	}
	if err := fn(t); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return wrap("commit", tx.Commit(ctx))
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

// pgDBTX adapts pgx.Tx to dbtx.
type pgDBTX struct {
	tx pgx.Tx
}

func (a pgDBTX) exec(ctx context.Context, query string, args ...any) (int64, error) {
	tag, err := a.tx.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (a pgDBTX) query(ctx context.Context, query string, args ...any) (rows, error) {
	rs, err := a.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return rs, nil
}

func (a pgDBTX) queryRow(ctx context.Context, query string, args ...any) row {
	return pgRow{a.tx.QueryRow(ctx, query, args...)}
}

type pgRow struct {
	r pgx.Row
}

func (r pgRow) Scan(dest ...any) error {
	err := r.r.Scan(dest...)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
