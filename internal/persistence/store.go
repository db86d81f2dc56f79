// Package persistence records run history: one row per run, per iteration,
// and per task completion, in SQLite.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Run is one invocation of the simulation.
type Run struct {
	ID        string
	ModelName string
	Slots     int
	StartedAt time.Time
}

// TaskRun is one completed (or failed) task within an iteration.
type TaskRun struct {
	RunID      string
	Iteration  int
	TaskID     int
	Kind       string
	ParentName string
	Name       string
	Level      int
	Error      string
}

// IterationRun is one iteration's outcome; Status is "completed" or "aborted".
type IterationRun struct {
	RunID      string
	Iteration  int
	DurationMS int64
	Status     string
}

// Store defines the persistence interface for run history.
type Store interface {
	BeginRun(ctx context.Context, run Run) error
	FinishRun(ctx context.Context, runID, status string) error
	SaveIteration(ctx context.Context, it IterationRun) error
	SaveTaskRun(ctx context.Context, tr TaskRun) error
	ListTaskRuns(ctx context.Context, runID string, iteration int) ([]TaskRun, error)
	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-backed store at the given path.
// Creates parent directories if needed. Enables WAL mode and a busy timeout.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", dbPath)
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return initStore(ctx, db)
}

// NewMemoryStore creates an in-memory SQLite store for testing.
// Uses a shared cache so multiple connections see the same database.
func NewMemoryStore(ctx context.Context) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", "file::memory:?mode=memory&cache=shared")
	if err != nil {
		return nil, fmt.Errorf("failed to open memory database: %w", err)
	}
	return initStore(ctx, db)
}

func initStore(ctx context.Context, db *sql.DB) (*SQLiteStore, error) {
	// Foreign keys must be enabled per connection with modernc.org/sqlite.
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	db.SetMaxOpenConns(2)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
