// Package checkpoint provides durable, append-only persistence for workflow
// run state.
//
// A run's history is a totally ordered list of checkpoints keyed by
// (run ID, sequence). Checkpoints are immutable once written: advancing a run
// always appends the next sequence number, never updates in place. The unique
// constraint on (run ID, sequence) is the engine's sole concurrency-correctness
// mechanism: when two workers race to advance the same run, exactly one
// Append succeeds per sequence and the loser observes ErrConflict.
package checkpoint

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a run has never been checkpointed.
var ErrNotFound = errors.New("checkpoint: not found")

// ErrConflict is returned by Append when a checkpoint with the same
// (run ID, sequence) already exists. This is an expected outcome under
// concurrent workers: it means another executor already advanced the run.
// Callers must not retry the same append; re-load the latest checkpoint
// instead.
var ErrConflict = errors.New("checkpoint: sequence conflict")

// ErrClosed is returned by all operations after Close.
var ErrClosed = errors.New("checkpoint: store is closed")

// Checkpoint is an immutable snapshot of a run's state after one step.
//
// For a given RunID, checkpoints form a gap-free total order by Sequence
// starting at 0. The latest checkpoint is the one with the highest Sequence.
//
// Type parameter S is the state type (must be JSON-serializable).
type Checkpoint[S any] struct {
	// RunID identifies the execution this checkpoint belongs to.
	RunID string `json:"run_id"`

	// Sequence is the checkpoint's position in the run, starting at 0.
	Sequence int `json:"sequence"`

	// State is the full accumulated state after the producing step ran.
	State S `json:"state"`

	// ProducedBy names the step whose output produced this state.
	ProducedBy string `json:"produced_by"`

	// WrittenAt records when the checkpoint was persisted.
	WrittenAt time.Time `json:"written_at"`
}

// Store persists run checkpoints.
//
// Implementations must be safe for concurrent use from multiple goroutines
// and, for database-backed stores, from multiple processes sharing the same
// database. No operation holds a connection beyond one logical call.
//
// Type parameter S is the state type to persist.
type Store[S any] interface {
	// EnsureSchema creates backing structures if absent. It is idempotent
	// and safe to call concurrently from multiple process instances: a
	// schema created by another instance first is treated as success.
	EnsureSchema(ctx context.Context) error

	// Append inserts a new checkpoint. It never updates an existing row.
	//
	// Returns ErrConflict if a checkpoint with the same (RunID, Sequence)
	// already exists. Callers must treat that as "someone else already
	// advanced this run" and re-load the latest checkpoint rather than
	// retry blindly.
	//
	// The returned checkpoint carries the WrittenAt timestamp actually
	// persisted.
	Append(ctx context.Context, cp Checkpoint[S]) (Checkpoint[S], error)

	// LoadLatest returns the checkpoint with the highest Sequence for the
	// run, or ErrNotFound if the run has never been checkpointed.
	LoadLatest(ctx context.Context, runID string) (Checkpoint[S], error)

	// List returns all checkpoints for a run ordered by Sequence ascending.
	// Intended for audit and debugging, not the executor's hot path.
	// A run with no checkpoints yields an empty slice, not an error.
	List(ctx context.Context, runID string) ([]Checkpoint[S], error)

	// Close releases the underlying resources (connection pool for
	// database-backed stores). Calling Close more than once is a no-op.
	Close() error
}
