// Package session persists conversation context state for flow runs.
//
// The engine flushes every tracked context after each successful node
// execution and once more on cancellation, so a reconnecting client can
// recover the conversation. Two implementations are provided: MemoryStore
// for tests and SQLiteStore for single-process production use.
package session

import (
	"errors"
	"time"
)

// Sentinel errors for store operations.
var (
	// ErrNotFound indicates no record exists for the requested keys.
	ErrNotFound = errors.New("session record not found")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("session store is closed")
)

// Record is one persisted context state for a run.
// State holds the JSON-encoded context value.
type Record struct {
	RunID       string
	ContextID   string
	ContextType string
	State       []byte
	UpdatedAt   time.Time
}

// Store persists and retrieves context state per run.
// Implementations must be safe for concurrent use.
type Store interface {
	// Save upserts a record keyed by (RunID, ContextID).
	Save(rec Record) error

	// Load retrieves one record.
	// Returns ErrNotFound if it doesn't exist.
	Load(runID, contextID string) (Record, error)

	// ListRun returns all records for a run, most recently updated last.
	// Returns an empty slice (not an error) for an unknown run.
	ListRun(runID string) ([]Record, error)

	// DeleteContext removes one record.
	// Returns nil if the record doesn't exist.
	DeleteContext(runID, contextID string) error

	// DeleteRun removes all records for a run.
	DeleteRun(runID string) error

	// Close releases any resources (connections, files).
	Close() error
}
