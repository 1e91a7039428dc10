// Package repository persists entity records in a local SQLite database.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/digidex/digidex-crawler/internal/crawl"
)

const databaseFile = "digidex.db"

// SQLiteRepository implements crawl.Repository on a single database file.
//
// Duplicate avoidance is check-then-insert. All writers are serialized by an
// internal mutex so the check and the insert are atomic with respect to the
// worker pool; the UNIQUE constraint plus ON CONFLICT DO NOTHING back that
// up at the storage layer. This serialization is part of the contract, not
// an optimization.
type SQLiteRepository struct {
	db     *sql.DB
	dbPath string

	writeMu sync.Mutex
}

// Open opens or creates the entity database inside dir. The directory and
// schema are created if absent.
func Open(dir string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	dbPath := filepath.Join(dir, databaseFile)

	db, err := sql.Open("sqlite", dbPath+"?mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite supports a single writer; one pooled connection keeps the
	// driver from returning SQLITE_BUSY under the worker pool.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	repo := &SQLiteRepository{db: db, dbPath: dbPath}
	if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if err := repo.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

func (r *SQLiteRepository) ensureSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS entities (
		name TEXT NOT NULL UNIQUE,
		description TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_entities_name ON entities(name);
	`
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return &crawl.StorageError{Op: "ensure schema", Err: err}
	}
	return nil
}

// Exists reports whether a record with the given name is already stored.
func (r *SQLiteRepository) Exists(ctx context.Context, name string) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM entities WHERE name = ?", name,
	).Scan(&count)
	if err != nil {
		return false, &crawl.StorageError{Op: "exists check", Err: err}
	}
	return count > 0, nil
}

// Save inserts the record unless its name is already present. It reports
// whether a row was written, so repeated runs can count skips.
func (r *SQLiteRepository) Save(ctx context.Context, record crawl.EntityRecord) (bool, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	exists, err := r.Exists(ctx, record.Name)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	res, err := r.db.ExecContext(ctx,
		"INSERT INTO entities (name, description) VALUES (?, ?) ON CONFLICT(name) DO NOTHING",
		record.Name, record.Description,
	)
	if err != nil {
		return false, &crawl.StorageError{Op: "insert entity", Err: err}
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, &crawl.StorageError{Op: "insert entity", Err: err}
	}
	return affected > 0, nil
}

// Count returns the number of stored entity records.
func (r *SQLiteRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM entities").Scan(&count); err != nil {
		return 0, &crawl.StorageError{Op: "count entities", Err: err}
	}
	return count, nil
}

// Get loads one record by name.
func (r *SQLiteRepository) Get(ctx context.Context, name string) (crawl.EntityRecord, error) {
	var record crawl.EntityRecord
	err := r.db.QueryRowContext(ctx,
		"SELECT name, description FROM entities WHERE name = ?", name,
	).Scan(&record.Name, &record.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return crawl.EntityRecord{}, fmt.Errorf("entity %q: %w", name, crawl.ErrNotFound)
	}
	if err != nil {
		return crawl.EntityRecord{}, &crawl.StorageError{Op: "get entity", Err: err}
	}
	return record, nil
}

// Path returns the location of the database file.
func (r *SQLiteRepository) Path() string { return r.dbPath }

// Close closes the database connection.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}
