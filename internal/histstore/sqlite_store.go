// Package histstore persists the history of selection broadcasts using
// SQLite.
package histstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Fixed-width so that timestamps order lexically in SQL.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Record is one persisted selection change.
type Record struct {
	ID        string    `json:"id"`
	Revision  uint64    `json:"revision"`
	Origin    string    `json:"origin"`
	Kind      string    `json:"kind"`
	IDs       []string  `json:"ids"`
	Size      int       `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// Store provides persistent storage for selection history.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// NewStore opens or creates the history database at dbPath. The path
// ":memory:" opens a private in-memory database.
func NewStore(dbPath string) (*Store, error) {
	memory := dbPath == ":memory:"
	if !memory {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory for sqlite: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	if memory {
		// Every pooled connection would otherwise see its own database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS selection_history (
		id TEXT PRIMARY KEY,
		revision INTEGER NOT NULL,
		origin TEXT NOT NULL DEFAULT '',
		kind TEXT NOT NULL,
		ids_json TEXT NOT NULL,
		size INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_selection_history_created ON selection_history(created_at);
	CREATE INDEX IF NOT EXISTS idx_selection_history_revision ON selection_history(revision);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Append stores one record.
func (s *Store) Append(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idsJSON, err := json.Marshal(rec.IDs)
	if err != nil {
		return fmt.Errorf("failed to marshal ids: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO selection_history (id, revision, origin, kind, ids_json, size, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID,
		int64(rec.Revision),
		rec.Origin,
		rec.Kind,
		string(idsJSON),
		rec.Size,
		rec.CreatedAt.UTC().Format(timeLayout),
	)
	return err
}

// List returns up to limit records, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, revision, origin, kind, ids_json, size, created_at
		FROM selection_history
		ORDER BY created_at DESC, revision DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec      Record
			revision int64
			idsJSON  string
			created  string
		)
		if err := rows.Scan(&rec.ID, &revision, &rec.Origin, &rec.Kind, &idsJSON, &rec.Size, &created); err != nil {
			return nil, err
		}
		rec.Revision = uint64(revision)
		if err := json.Unmarshal([]byte(idsJSON), &rec.IDs); err != nil {
			return nil, fmt.Errorf("record %s: bad ids: %w", rec.ID, err)
		}
		if rec.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
			return nil, fmt.Errorf("record %s: bad timestamp: %w", rec.ID, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Count returns the number of stored records.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM selection_history`).Scan(&n)
	return n, err
}

// DeleteOlderThan deletes records created before cutoff.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx, `
		DELETE FROM selection_history WHERE created_at < ?
	`, cutoff.UTC().Format(timeLayout))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
