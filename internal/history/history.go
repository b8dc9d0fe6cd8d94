// Package history keeps an append-only ledger of invocations so `drip
// history` can answer what ran, where, and how it ended.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Mode records how an invocation was executed.
const (
	ModePooled = "pooled"
	ModeDirect = "direct"
)

// Record is one ledger row.
type Record struct {
	ID          string
	PoolKey     string
	Worker      string // empty for direct execution
	EntryPoint  string
	Args        []string
	Mode        string
	ExitCode    int
	LastError   *string
	CreatedAt   time.Time
	CompletedAt time.Time
}

// Store is the SQLite-backed ledger.
type Store struct {
	db *sql.DB
}

// Open opens (and creates if needed) the ledger database at path and
// ensures the schema exists.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("history path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}

	if _, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS invocation_log (
  id           TEXT PRIMARY KEY,
  pool_key     TEXT NOT NULL,
  worker       TEXT,
  entry_point  TEXT NOT NULL,
  args         JSON,
  mode         TEXT NOT NULL,
  exit_code    INTEGER NOT NULL,
  last_error   TEXT,
  created_at   TEXT NOT NULL,
  completed_at TEXT NOT NULL
);`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap history schema: %w", err)
	}
	if _, err := db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS invocation_log_created_at_idx ON invocation_log(created_at);`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap history index: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Append writes one row. A missing ID is generated.
func (s *Store) Append(ctx context.Context, rec Record) (string, error) {
	if rec.PoolKey == "" {
		return "", fmt.Errorf("pool key is empty")
	}
	if rec.Mode != ModePooled && rec.Mode != ModeDirect {
		return "", fmt.Errorf("invalid mode: %q", rec.Mode)
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	var args any
	if len(rec.Args) > 0 {
		b, err := json.Marshal(rec.Args)
		if err != nil {
			return "", fmt.Errorf("marshal args: %w", err)
		}
		args = string(b)
	}

	var worker any
	if rec.Worker != "" {
		worker = rec.Worker
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO invocation_log(
  id, pool_key, worker, entry_point, args, mode, exit_code, last_error, created_at, completed_at
)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`, rec.ID, rec.PoolKey, worker, rec.EntryPoint, args, rec.Mode, rec.ExitCode, rec.LastError,
		rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		rec.CompletedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return "", fmt.Errorf("append invocation: %w", err)
	}
	return rec.ID, nil
}

// Recent returns up to limit rows, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, pool_key, worker, entry_point, args, mode, exit_code, last_error, created_at, completed_at
FROM invocation_log
ORDER BY created_at DESC, rowid DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec        Record
			worker     sql.NullString
			args       sql.NullString
			lastError  sql.NullString
			createdS   string
			completedS string
		)
		if err := rows.Scan(&rec.ID, &rec.PoolKey, &worker, &rec.EntryPoint, &args,
			&rec.Mode, &rec.ExitCode, &lastError, &createdS, &completedS); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		if worker.Valid {
			rec.Worker = worker.String
		}
		if args.Valid {
			if err := json.Unmarshal([]byte(args.String), &rec.Args); err != nil {
				return nil, fmt.Errorf("unmarshal args: %w", err)
			}
		}
		if lastError.Valid {
			rec.LastError = &lastError.String
		}
		if t, err := time.Parse(time.RFC3339Nano, createdS); err == nil {
			rec.CreatedAt = t
		}
		if t, err := time.Parse(time.RFC3339Nano, completedS); err == nil {
			rec.CompletedAt = t
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
