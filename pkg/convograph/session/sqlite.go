package session

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteStore persists session state to SQLite.
// It is suitable for single-process production use.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteStore creates a new SQLite session store.
// The path should be a file path (e.g., "./sessions.db") or ":memory:"
// for testing.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS session_contexts (
			run_id TEXT NOT NULL,
			context_id TEXT NOT NULL,
			context_type TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			state BLOB NOT NULL,
			PRIMARY KEY (run_id, context_id)
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_session_contexts_run_id
		ON session_contexts(run_id)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create index: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Save implements Store.
func (s *SQLiteStore) Save(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	updatedAt := rec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	_, err := s.db.Exec(`
		INSERT INTO session_contexts (run_id, context_id, context_type, updated_at, state)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(run_id, context_id) DO UPDATE SET
			context_type = excluded.context_type,
			updated_at = excluded.updated_at,
			state = excluded.state
	`, rec.RunID, rec.ContextID, rec.ContextType, updatedAt.Format(time.RFC3339Nano), rec.State)
	if err != nil {
		return fmt.Errorf("save session record: %w", err)
	}
	return nil
}

// Load implements Store.
func (s *SQLiteStore) Load(runID, contextID string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return Record{}, ErrStoreClosed
	}

	row := s.db.QueryRow(`
		SELECT run_id, context_id, context_type, updated_at, state
		FROM session_contexts
		WHERE run_id = ? AND context_id = ?
	`, runID, contextID)

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("load session record: %w", err)
	}
	return rec, nil
}

// ListRun implements Store.
func (s *SQLiteStore) ListRun(runID string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.Query(`
		SELECT run_id, context_id, context_type, updated_at, state
		FROM session_contexts
		WHERE run_id = ?
		ORDER BY updated_at ASC, context_id ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list session records: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// DeleteContext implements Store.
func (s *SQLiteStore) DeleteContext(runID, contextID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	_, err := s.db.Exec(`DELETE FROM session_contexts WHERE run_id = ? AND context_id = ?`, runID, contextID)
	return err
}

// DeleteRun implements Store.
func (s *SQLiteStore) DeleteRun(runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	_, err := s.db.Exec(`DELETE FROM session_contexts WHERE run_id = ?`, runID)
	return err
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// scanner abstracts sql.Row and sql.Rows for scanRecord.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (Record, error) {
	var rec Record
	var updatedAt string
	if err := sc.Scan(&rec.RunID, &rec.ContextID, &rec.ContextType, &updatedAt, &rec.State); err != nil {
		return Record{}, err
	}
	if ts, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		rec.UpdatedAt = ts
	}
	return rec, nil
}
