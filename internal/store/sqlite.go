package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/ytget/yt-queue/internal/platform"
)

// SQLite is the default backend. All access goes through a single connection,
// which serializes writers and keeps busy errors out of read-modify-write units.
type SQLite struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenSQLite applies migrations and opens the database file at path.
func OpenSQLite(ctx context.Context, path string, logger *slog.Logger) (*SQLite, error) {
	if err := platform.CreateDirectoryIfNotExists(filepath.Dir(path)); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := migrateSQLite(path, logger); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	logger.Info("SQLite store opened", slog.String("path", path))
	return &SQLite{db: db, logger: logger}, nil
}

func migrateSQLite(path string, logger *slog.Logger) error {
	source, err := iofs.New(migrationsFS, "migrations/sqlite")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, "sqlite://"+path)
	if err != nil {
		return fmt.Errorf("failed to init migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, dirty, _ := m.Version()
	logger.Debug("SQLite migrations applied",
		slog.Uint64("version", uint64(version)),
		slog.Bool("dirty", dirty),
	)
	return nil
}

func (s *SQLite) Update(ctx context.Context, fn func(tx Tx) error) error {
	return s.run(ctx, false, fn)
}

func (s *SQLite) View(ctx context.Context, fn func(tx Tx) error) error {
	return s.run(ctx, true, fn)
}

func (s *SQLite) run(ctx context.Context, readOnly bool, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap("begin", err)
	}

	if err := fn(&sqlTx{ctx: ctx, db: sqlDBTX{tx}}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if readOnly {
		return wrap("rollback", tx.Rollback())
	}
	return wrap("commit", tx.Commit())
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

// sqlDBTX adapts *sql.Tx to dbtx.
type sqlDBTX struct {
	tx *sql.Tx
}

func (a sqlDBTX) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := a.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (a sqlDBTX) query(ctx context.Context, query string, args ...any) (rows, error) {
	rs, err := a.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return sqlRows{rs}, nil
}

func (a sqlDBTX) queryRow(ctx context.Context, query string, args ...any) row {
	return sqlRow{a.tx.QueryRowContext(ctx, query, args...)}
}

type sqlRows struct {
	*sql.Rows
}

func (r sqlRows) Close() {
	_ = r.Rows.Close()
}

type sqlRow struct {
	r *sql.Row
}

func (r sqlRow) Scan(dest ...any) error {
	err := r.r.Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
