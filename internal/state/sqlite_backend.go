package state

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // pure Go SQLite driver, registers as "sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const walJournalSizeLimit = 67108864 // 64 MiB

// SQLiteBackend is the transactional adapter: a single kv_store table under
// WAL journaling, schema-versioned with goose.
type SQLiteBackend struct {
	db     *sql.DB
	logger *slog.Logger

	getStmt    *sql.Stmt
	setStmt    *sql.Stmt
	deleteStmt *sql.Stmt
}

// NewSQLiteBackend opens (creating if necessary) a SQLite database at
// dbPath, applies pending migrations, and prepares its statements. Use
// ":memory:" for tests.
func NewSQLiteBackend(ctx context.Context, dbPath string, logger *slog.Logger) (*SQLiteBackend, error) {
	logger.Info("opening state database", "path", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("state: opening sqlite database: %w", err)
	}

	if err := setPragmas(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	b := &SQLiteBackend{db: db, logger: logger}

	if err := b.prepareStatements(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("state: preparing statements: %w", err)
	}

	logger.Info("state database ready", "path", dbPath)

	return b, nil
}

func setPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		fmt.Sprintf("PRAGMA journal_size_limit = %d", walJournalSizeLimit),
	}

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("state: setting pragma %q: %w", p, err)
		}
	}

	return nil
}

// runMigrations applies all pending schema migrations via goose's Provider
// API, the same context-aware, no-global-state approach the teacher uses.
func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("state: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("state: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("state: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Info("applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}

const (
	sqlGetKV    = `SELECT value FROM kv_store WHERE key = ?`
	sqlSetKV    = `INSERT INTO kv_store (key, value, updated_at) VALUES (?, ?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	sqlDeleteKV = `DELETE FROM kv_store WHERE key = ?`
)

func (b *SQLiteBackend) prepareStatements(ctx context.Context) error {
	var err error

	if b.getStmt, err = b.db.PrepareContext(ctx, sqlGetKV); err != nil {
		return fmt.Errorf("preparing get: %w", err)
	}

	if b.setStmt, err = b.db.PrepareContext(ctx, sqlSetKV); err != nil {
		return fmt.Errorf("preparing set: %w", err)
	}

	if b.deleteStmt, err = b.db.PrepareContext(ctx, sqlDeleteKV); err != nil {
		return fmt.Errorf("preparing delete: %w", err)
	}

	return nil
}

// Get returns the value stored for key, or (nil, nil) if absent.
func (b *SQLiteBackend) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte

	err := b.getStmt.QueryRowContext(ctx, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("state: getting key %q: %w", key, err)
	}

	return value, nil
}

// Set upserts value for key.
func (b *SQLiteBackend) Set(ctx context.Context, key string, value []byte) error {
	if _, err := b.setStmt.ExecContext(ctx, key, value, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("state: setting key %q: %w", key, err)
	}

	return nil
}

// Delete removes the value stored for key.
func (b *SQLiteBackend) Delete(ctx context.Context, key string) error {
	if _, err := b.deleteStmt.ExecContext(ctx, key); err != nil {
		return fmt.Errorf("state: deleting key %q: %w", key, err)
	}

	return nil
}

// Close closes the underlying database handle.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
