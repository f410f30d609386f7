package checkpoint

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemStore is an in-memory implementation of Store[S].
//
// Designed for testing and single-process development runs. Data is lost when
// the process terminates, so it is unsuitable for durable workflows; use
// SQLiteStore or MySQLStore for those.
//
// MemStore is thread-safe and enforces the same (RunID, Sequence) uniqueness
// as the database-backed stores, which makes it a faithful stand-in for
// concurrency tests.
type MemStore[S any] struct {
	mu     sync.RWMutex
	runs   map[string][]Checkpoint[S] // runID -> checkpoints, kept sorted by Sequence
	closed bool

	// now is the clock used for WrittenAt; replaceable in tests.
	now func() time.Time
}

// NewMemStore creates an empty in-memory store.
func NewMemStore[S any]() *MemStore[S] {
	return &MemStore[S]{
		runs: make(map[string][]Checkpoint[S]),
		now:  time.Now,
	}
}

// EnsureSchema is a no-op for the in-memory store. It exists so MemStore can
// be dropped in wherever a database-backed store is expected.
func (m *MemStore[S]) EnsureSchema(_ context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

// Append inserts a checkpoint, enforcing (RunID, Sequence) uniqueness.
func (m *MemStore[S]) Append(_ context.Context, cp Checkpoint[S]) (Checkpoint[S], error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var zero Checkpoint[S]
	if m.closed {
		return zero, ErrClosed
	}

	history := m.runs[cp.RunID]
	for _, existing := range history {
		if existing.Sequence == cp.Sequence {
			return zero, ErrConflict
		}
	}

	cp.WrittenAt = m.now().UTC()
	history = append(history, cp)
	sort.Slice(history, func(i, j int) bool {
		return history[i].Sequence < history[j].Sequence
	})
	m.runs[cp.RunID] = history

	return cp, nil
}

// LoadLatest returns the highest-sequence checkpoint for the run.
func (m *MemStore[S]) LoadLatest(_ context.Context, runID string) (Checkpoint[S], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var zero Checkpoint[S]
	if m.closed {
		return zero, ErrClosed
	}

	history := m.runs[runID]
	if len(history) == 0 {
		return zero, ErrNotFound
	}

	return history[len(history)-1], nil
}

// List returns the run's checkpoints ordered by Sequence ascending.
func (m *MemStore[S]) List(_ context.Context, runID string) ([]Checkpoint[S], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}

	history := m.runs[runID]
	out := make([]Checkpoint[S], len(history))
	copy(out, history)
	return out, nil
}

// Close marks the store closed. Subsequent operations return ErrClosed.
func (m *MemStore[S]) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	m.runs = nil
	return nil
}
