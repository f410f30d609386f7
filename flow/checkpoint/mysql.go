package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/goccy/go-json"
)

// mysqlDupEntry is the MySQL server error number for duplicate-key inserts
// (ER_DUP_ENTRY).
const mysqlDupEntry = 1062

// MySQLConfig tunes the MySQL connection pool.
//
// Zero values fall back to defaults suitable for a single worker process.
// PoolSize bounds the number of concurrent in-flight store operations across
// all runs handled by this process.
type MySQLConfig struct {
	// PoolSize is the maximum number of open connections. Default 25.
	PoolSize int

	// MaxIdle is the number of idle connections kept for reuse. Default 5.
	MaxIdle int

	// ConnMaxLifetime bounds the age of a pooled connection. Default 5m.
	ConnMaxLifetime time.Duration
}

// MySQLStore is a MySQL/MariaDB implementation of Store[S].
//
// Designed for production deployments where multiple worker processes share
// one database. The table's unique key on (run_id, sequence) provides the
// single-writer-wins guarantee across processes; no application-level locking
// or leader election is involved.
//
// Type parameter S is the state type to persist (must be JSON-serializable).
type MySQLStore[S any] struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewMySQLStore opens a MySQL-backed store using the given DSN.
//
// DSN format:
//
//	[username[:password]@][protocol[(address)]]/dbname[?param1=value1&...]
//
// The DSN must include parseTime=true so written_at columns scan into
// time.Time. Credentials belong in the environment, not in source. The
// caller must invoke EnsureSchema before the first Append or LoadLatest.
func NewMySQLStore[S any](dsn string, cfg MySQLConfig) (*MySQLStore[S], error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 25
	}
	if cfg.MaxIdle <= 0 {
		cfg.MaxIdle = 5
	}
	if cfg.ConnMaxLifetime <= 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	db.SetMaxOpenConns(cfg.PoolSize)
	db.SetMaxIdleConns(cfg.MaxIdle)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(10 * time.Minute)

	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	return &MySQLStore[S]{db: db}, nil
}

// EnsureSchema creates the checkpoints table if absent.
//
// CREATE TABLE IF NOT EXISTS makes this idempotent and safe under concurrent
// first-use: when another worker creates the table first, this call succeeds
// without error.
func (m *MySQLStore[S]) EnsureSchema(ctx context.Context) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	m.mu.RUnlock()

	table := `
		CREATE TABLE IF NOT EXISTS run_checkpoints (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			run_id VARCHAR(255) NOT NULL,
			sequence INT NOT NULL,
			state JSON NOT NULL,
			produced_by VARCHAR(255) NOT NULL,
			written_at TIMESTAMP(6) NOT NULL,
			INDEX idx_run_id (run_id),
			UNIQUE KEY unique_run_sequence (run_id, sequence)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := m.db.ExecContext(ctx, table); err != nil {
		return fmt.Errorf("failed to create run_checkpoints table: %w", err)
	}

	return nil
}

// Append inserts a checkpoint row (implements Store).
//
// A duplicate (run_id, sequence) trips the unique key and is mapped to
// ErrConflict.
func (m *MySQLStore[S]) Append(ctx context.Context, cp Checkpoint[S]) (Checkpoint[S], error) {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		var zero Checkpoint[S]
		return zero, ErrClosed
	}
	m.mu.RUnlock()

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
	_, err = m.db.ExecContext(ctx, query,
		cp.RunID, cp.Sequence, stateJSON, cp.ProducedBy, cp.WrittenAt,
	)
	if err != nil {
		var me *mysql.MySQLError
		if errors.As(err, &me) && me.Number == mysqlDupEntry {
			return zero, ErrConflict
		}
		return zero, fmt.Errorf("failed to append checkpoint: %w", err)
	}

	return cp, nil
}

// LoadLatest returns the highest-sequence checkpoint for the run
// (implements Store). Returns ErrNotFound if the run has no checkpoints.
func (m *MySQLStore[S]) LoadLatest(ctx context.Context, runID string) (Checkpoint[S], error) {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		var zero Checkpoint[S]
		return zero, ErrClosed
	}
	m.mu.RUnlock()

	query := `
		SELECT run_id, sequence, state, produced_by, written_at
		FROM run_checkpoints
		WHERE run_id = ?
		ORDER BY sequence DESC
		LIMIT 1
	`

	var zero Checkpoint[S]
	cp, err := scanMySQLRow[S](m.db.QueryRowContext(ctx, query, runID))
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
func (m *MySQLStore[S]) List(ctx context.Context, runID string) ([]Checkpoint[S], error) {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return nil, ErrClosed
	}
	m.mu.RUnlock()

	query := `
		SELECT run_id, sequence, state, produced_by, written_at
		FROM run_checkpoints
		WHERE run_id = ?
		ORDER BY sequence ASC
	`

	rows, err := m.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	defer func() { _ = rows.Close() }()

	checkpoints := make([]Checkpoint[S], 0)
	for rows.Next() {
		cp, err := scanMySQLRow[S](rows)
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

// Close closes the connection pool.
//
// Calling Close multiple times is safe (subsequent calls are no-ops).
func (m *MySQLStore[S]) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	return m.db.Close()
}

// Ping verifies the database connection is alive. Useful for health checks.
func (m *MySQLStore[S]) Ping(ctx context.Context) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	m.mu.RUnlock()

	return m.db.PingContext(ctx)
}

// Stats returns connection pool statistics for monitoring.
func (m *MySQLStore[S]) Stats() sql.DBStats {
	return m.db.Stats()
}

func scanMySQLRow[S any](row rowScanner) (Checkpoint[S], error) {
	var (
		cp        Checkpoint[S]
		stateJSON []byte
	)

	if err := row.Scan(&cp.RunID, &cp.Sequence, &stateJSON, &cp.ProducedBy, &cp.WrittenAt); err != nil {
		var zero Checkpoint[S]
		return zero, err
	}

	if err := json.Unmarshal(stateJSON, &cp.State); err != nil {
		var zero Checkpoint[S]
		return zero, fmt.Errorf("failed to unmarshal state: %w", err)
	}

	return cp, nil
}
