package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLiteStore is a SQLite implementation of Store[S].
//
// It keeps a run's checkpoint history in a single-file database. Designed for:
//   - Development and testing with zero setup
//   - Single-host workers that need durability across restarts
//   - Prototyping before migrating to MySQL
//
// WAL mode is enabled so readers never block on the single writer, and a busy
// timeout makes concurrent first-use from multiple processes safe.
//
// Type parameter S is the state type to persist (must be JSON-serializable).
type SQLiteStore[S any] struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	path   string
}

// NewSQLiteStore opens (creating if needed) a SQLite-backed store.
//
// The path may be a file path such as "./worker.db" or ":memory:" for an
// in-memory database. The caller must invoke EnsureSchema before the first
// Append or LoadLatest.
//
// Example:
//
//	store, err := checkpoint.NewSQLiteStore[flow.State]("./worker.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//	if err := store.EnsureSchema(ctx); err != nil {
//	    log.Fatal(err)
//	}
func NewSQLiteStore[S any](path string) (*SQLiteStore[S], error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	return &SQLiteStore[S]{db: db, path: path}, nil
}

// EnsureSchema creates the checkpoints table and indexes if absent.
//
// Uses CREATE TABLE IF NOT EXISTS, so concurrent first-use from multiple
// workers sharing one database file is safe: whichever worker wins the race
// creates the schema and the rest see it as already present.
func (s *SQLiteStore[S]) EnsureSchema(ctx context.Context) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrClosed
	}
	s.mu.RUnlock()

	table := `
		CREATE TABLE IF NOT EXISTS run_checkpoints (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			sequence INTEGER NOT NULL,
			state TEXT NOT NULL,
			produced_by TEXT NOT NULL,
			written_at TIMESTAMP NOT NULL,
			UNIQUE(run_id, sequence)
		)
	`
	if _, err := s.db.ExecContext(ctx, table); err != nil {
		return fmt.Errorf("failed to create run_checkpoints table: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_checkpoints_run_id ON run_checkpoints(run_id)"); err != nil {
		return fmt.Errorf("failed to create idx_checkpoints_run_id: %w", err)
	}

	return nil
}

// Append inserts a checkpoint row (implements Store).
//
// The insert is a plain INSERT, never an upsert: a duplicate
// (run_id, sequence) violates the table's unique constraint and is mapped to
// ErrConflict so racing executors can detect a lost advance.
func (s *SQLiteStore[S]) Append(ctx context.Context, cp Checkpoint[S]) (Checkpoint[S], error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		var zero Checkpoint[S]
		return zero, ErrClosed
	}
	s.mu.RUnlock()

	var zero Checkpoint[S]

	stateJSON, err := json.Marshal(cp.State)
	if err != nil {
		return zero, fmt.Errorf("failed to marshal state: %w", err)
	}

	cp.WrittenAt = time.Now().UTC()

	query := `
		INSERT INTO run_checkpoints (run_id, sequence, state, produced_by, written_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		cp.RunID, cp.Sequence, string(stateJSON), cp.ProducedBy,
		cp.WrittenAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return zero, ErrConflict
		}
		return zero, fmt.Errorf("failed to append checkpoint: %w", err)
	}

	return cp, nil
}

// LoadLatest returns the highest-sequence checkpoint for the run
// (implements Store). Returns ErrNotFound if the run has no checkpoints.
func (s *SQLiteStore[S]) LoadLatest(ctx context.Context, runID string) (Checkpoint[S], error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		var zero Checkpoint[S]
		return zero, ErrClosed
	}
	s.mu.RUnlock()

	query := `
		SELECT run_id, sequence, state, produced_by, written_at
		FROM run_checkpoints
		WHERE run_id = ?
		ORDER BY sequence DESC
		LIMIT 1
	`

	var zero Checkpoint[S]
	cp, err := scanSQLiteRow[S](s.db.QueryRowContext(ctx, query, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return zero, ErrNotFound
	}
	if err != nil {
		return zero, fmt.Errorf("failed to load latest checkpoint: %w", err)
	}

	return cp, nil
}

// List returns the run's checkpoints ordered by sequence ascending
// (implements Store).
func (s *SQLiteStore[S]) List(ctx context.Context, runID string) ([]Checkpoint[S], error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, ErrClosed
	}
	s.mu.RUnlock()

	query := `
		SELECT run_id, sequence, state, produced_by, written_at
		FROM run_checkpoints
		WHERE run_id = ?
		ORDER BY sequence ASC
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	defer func() { _ = rows.Close() }()

	checkpoints := make([]Checkpoint[S], 0)
	for rows.Next() {
		cp, err := scanSQLiteRow[S](rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint row: %w", err)
		}
		checkpoints = append(checkpoints, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating checkpoint rows: %w", err)
	}

	return checkpoints, nil
}

// Close closes the database connection.
//
// Calling Close multiple times is safe (subsequent calls are no-ops).
func (s *SQLiteStore[S]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Ping verifies the database connection is alive. Useful for health checks.
func (s *SQLiteStore[S]) Ping(ctx context.Context) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrClosed
	}
	s.mu.RUnlock()

	return s.db.PingContext(ctx)
}

// Path returns the database file path, useful for logging.
func (s *SQLiteStore[S]) Path() string {
	return s.path
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteRow[S any](row rowScanner) (Checkpoint[S], error) {
	var (
		cp           Checkpoint[S]
		stateJSON    string
		writtenAtStr string
	)

	if err := row.Scan(&cp.RunID, &cp.Sequence, &stateJSON, &cp.ProducedBy, &writtenAtStr); err != nil {
		var zero Checkpoint[S]
		return zero, err
	}

	writtenAt, err := time.Parse(time.RFC3339Nano, writtenAtStr)
	if err != nil {
		var zero Checkpoint[S]
		return zero, fmt.Errorf("failed to parse written_at: %w", err)
	}
	cp.WrittenAt = writtenAt

	if err := json.Unmarshal([]byte(stateJSON), &cp.State); err != nil {
		var zero Checkpoint[S]
		return zero, fmt.Errorf("failed to unmarshal state: %w", err)
	}

	return cp, nil
}

// isSQLiteUniqueViolation reports whether err is a unique-constraint failure
// from the sqlite driver.
func isSQLiteUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	code := se.Code()
	return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}
