package history

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	apperrors "psadiag/internal/errors"
)

const schema = `CREATE TABLE IF NOT EXISTS operations (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	subject TEXT NOT NULL DEFAULT '',
	outcome TEXT NOT NULL,
	message TEXT NOT NULL DEFAULT '',
	started_at INTEGER NOT NULL,
	finished_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_operations_finished ON operations(finished_at DESC);`

// DefaultLimit bounds Recent when no limit is given.
const DefaultLimit = 20

// SQLiteRepository persists journal entries in a SQLite database file.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository wires a SQLite-backed implementation of Repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{
		db:  db,
		now: time.Now,
	}
}

// Open opens (creating if needed) the database at path and bootstraps it.
func Open(ctx context.Context, path string) (*SQLiteRepository, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, dbError("failed to create database directory", err).WithField("path", path)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, dbError("failed to open database", err).WithField("path", path)
	}
	// A single connection keeps ":memory:" databases coherent.
	db.SetMaxOpenConns(1)

	repo := NewSQLiteRepository(db)
	if err := repo.Bootstrap(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

// Bootstrap creates the schema.
func (r *SQLiteRepository) Bootstrap(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return dbError("failed to create schema", err).WithOperation("Bootstrap")
	}
	return nil
}

// Record stores entry, filling in a missing ID or timestamps.
func (r *SQLiteRepository) Record(ctx context.Context, entry Entry) (Entry, error) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.FinishedAt.IsZero() {
		entry.FinishedAt = r.now()
	}
	if entry.StartedAt.IsZero() {
		entry.StartedAt = entry.FinishedAt
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO operations (id, kind, subject, outcome, message, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID.String(), string(entry.Kind), entry.Subject, string(entry.Outcome), entry.Message,
		entry.StartedAt.UnixMilli(), entry.FinishedAt.UnixMilli(),
	)
	if err != nil {
		return Entry{}, dbError("failed to record operation", err).
			WithOperation("Record").
			WithField("kind", string(entry.Kind))
	}
	return entry, nil
}

// Recent returns up to limit entries, newest first.
func (r *SQLiteRepository) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, kind, subject, outcome, message, started_at, finished_at
		 FROM operations
		 ORDER BY finished_at DESC, rowid DESC
		 LIMIT ?`, limit)
	if err != nil {
		return nil, dbError("failed to query operations", err).WithOperation("Recent")
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			id, kind, outcome string
			started, finished int64
			entry             Entry
		)
		if err := rows.Scan(&id, &kind, &entry.Subject, &outcome, &entry.Message, &started, &finished); err != nil {
			return nil, dbError("failed to read operation", err).WithOperation("Recent")
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, dbError("corrupt operation id", err).WithField("id", id)
		}
		entry.ID = parsed
		entry.Kind = Kind(kind)
		entry.Outcome = Outcome(outcome)
		entry.StartedAt = time.UnixMilli(started)
		entry.FinishedAt = time.UnixMilli(finished)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("failed to read operations", err).WithOperation("Recent")
	}
	return entries, nil
}

// Close releases the database handle.
func (r *SQLiteRepository) Close() error {
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

func dbError(message string, err error) *apperrors.AppError {
	return apperrors.DatabaseError(apperrors.CodeDatabaseGeneric, message, err).WithModule("history")
}

var _ Repository = (*SQLiteRepository)(nil)
