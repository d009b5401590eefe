package progress

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const schemaVersion = 1

// Config configures the SQLite-backed store.
type Config struct {
	// Path is the local database file. ":memory:" keeps state for the
	// process lifetime only.
	Path string
}

// SQLiteStore implements Store on a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// Open opens (and creates if needed) the progress database. Local files run
// with WAL, a busy timeout, and a single connection to keep lock behavior
// predictable.
func Open(ctx context.Context, cfg Config) (*SQLiteStore, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("progress store path is required")
	}
	if path != ":memory:" {
		if dir := filepath.Dir(filepath.Clean(path)); dir != "." && dir != string(filepath.Separator) {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create progress store directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open progress store: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping progress store: %w", err)
	}

	// Keep a single connection and use WAL to reduce lock contention.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if path != ":memory:" {
		var journalMode string
		if err := db.QueryRowContext(ctx, "PRAGMA journal_mode=WAL").Scan(&journalMode); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
		var busyTimeout int
		if err := db.QueryRowContext(ctx, "PRAGMA busy_timeout=5000").Scan(&busyTimeout); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set busy timeout: %w", err)
		}
	}

	s := &SQLiteStore{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS progress_meta (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			schema_version INTEGER NOT NULL,
			created_at TEXT NOT NULL
		);`,
		`INSERT OR IGNORE INTO progress_meta (id, schema_version, created_at) VALUES (1, ?, ?);`,
		`CREATE TABLE IF NOT EXISTS chunk_progress (
			run_id TEXT NOT NULL,
			chunk_key TEXT NOT NULL,
			attempts INTEGER NOT NULL,
			outcome TEXT NOT NULL,
			last_error TEXT,
			objects_copied INTEGER NOT NULL DEFAULT 0,
			bytes_copied INTEGER NOT NULL DEFAULT 0,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (run_id, chunk_key)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_chunk_progress_outcome ON chunk_progress(run_id, outcome);`,
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for i, stmt := range stmts {
		if i == 1 {
			if _, err := s.db.ExecContext(ctx, stmt, schemaVersion, now); err != nil {
				return fmt.Errorf("init schema meta: %w", err)
			}
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, runID, chunkKey string) (*ChunkProgress, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, chunk_key, attempts, outcome, last_error, objects_copied, bytes_copied, updated_at
		FROM chunk_progress WHERE run_id = ? AND chunk_key = ?
	`, runID, chunkKey)

	p, err := scanProgress(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

func (s *SQLiteStore) Upsert(ctx context.Context, p ChunkProgress) error {
	if p.RunID == "" || p.ChunkKey == "" {
		return errors.New("progress upsert: run id and chunk key are required")
	}
	updatedAt := p.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chunk_progress (run_id, chunk_key, attempts, outcome, last_error, objects_copied, bytes_copied, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, chunk_key) DO UPDATE SET
			attempts=excluded.attempts,
			outcome=excluded.outcome,
			last_error=excluded.last_error,
			objects_copied=excluded.objects_copied,
			bytes_copied=excluded.bytes_copied,
			updated_at=excluded.updated_at
	`, p.RunID, p.ChunkKey, p.Attempts, string(p.Outcome), p.LastError, p.ObjectsCopied, p.BytesCopied, updatedAt.Format(time.RFC3339Nano))
	return err
}

func (s *SQLiteStore) ListFailed(ctx context.Context, runID string) ([]ChunkProgress, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, chunk_key, attempts, outcome, last_error, objects_copied, bytes_copied, updated_at
		FROM chunk_progress WHERE run_id = ? AND outcome = ? ORDER BY chunk_key
	`, runID, string(OutcomeFailed))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []ChunkProgress
	for rows.Next() {
		p, err := scanProgress(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProgress(r rowScanner) (*ChunkProgress, error) {
	var p ChunkProgress
	var outcome, updatedAt string
	var lastErr sql.NullString
	if err := r.Scan(&p.RunID, &p.ChunkKey, &p.Attempts, &outcome, &lastErr, &p.ObjectsCopied, &p.BytesCopied, &updatedAt); err != nil {
		return nil, err
	}
	p.Outcome = Outcome(outcome)
	p.LastError = lastErr.String
	if ts, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		p.UpdatedAt = ts
	}
	return &p, nil
}
