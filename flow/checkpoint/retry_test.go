package checkpoint

import (
	"context"
	"errors"
	"testing"
	"time"
)

// flakyStore fails each operation a fixed number of times before delegating
// to an in-memory store.
type flakyStore struct {
	inner     *MemStore[testState]
	failures  int
	calls     int
	failWith  error
	failCalls int
}

func newFlakyStore(failures int, failWith error) *flakyStore {
	return &flakyStore{inner: NewMemStore[testState](), failures: failures, failWith: failWith}
}

func (f *flakyStore) fail() error {
	f.calls++
	if f.failCalls < f.failures {
		f.failCalls++
		return f.failWith
	}
	return nil
}

func (f *flakyStore) EnsureSchema(ctx context.Context) error {
	if err := f.fail(); err != nil {
		return err
	}
	return f.inner.EnsureSchema(ctx)
}

func (f *flakyStore) Append(ctx context.Context, cp Checkpoint[testState]) (Checkpoint[testState], error) {
	if err := f.fail(); err != nil {
		var zero Checkpoint[testState]
		return zero, err
	}
	return f.inner.Append(ctx, cp)
}

func (f *flakyStore) LoadLatest(ctx context.Context, runID string) (Checkpoint[testState], error) {
	if err := f.fail(); err != nil {
		var zero Checkpoint[testState]
		return zero, err
	}
	return f.inner.LoadLatest(ctx, runID)
}

func (f *flakyStore) List(ctx context.Context, runID string) ([]Checkpoint[testState], error) {
	if err := f.fail(); err != nil {
		return nil, err
	}
	return f.inner.List(ctx, runID)
}

func (f *flakyStore) Close() error {
	return f.inner.Close()
}

func fastRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval: time.Millisecond,
		MaxInterval:     time.Millisecond,
		MaxRetries:      3,
	}
}

func TestRetryingRecoversFromTransientFailure(t *testing.T) {
	ctx := context.Background()
	transient := errors.New("connection reset")
	flaky := newFlakyStore(2, transient)
	store := NewRetrying[testState](flaky, fastRetryConfig())

	cp, err := store.Append(ctx, Checkpoint[testState]{RunID: "r", Sequence: 0, ProducedBy: "n"})
	if err != nil {
		t.Fatalf("Append should succeed after retries: %v", err)
	}
	if cp.RunID != "r" {
		t.Errorf("unexpected checkpoint: %+v", cp)
	}
	if flaky.calls != 3 {
		t.Errorf("expected 3 attempts (2 failures + 1 success), got %d", flaky.calls)
	}
}

func TestRetryingGivesUpAfterMaxRetries(t *testing.T) {
	ctx := context.Background()
	transient := errors.New("connection reset")
	flaky := newFlakyStore(100, transient)
	store := NewRetrying[testState](flaky, fastRetryConfig())

	_, err := store.Append(ctx, Checkpoint[testState]{RunID: "r", Sequence: 0})
	if !errors.Is(err, transient) {
		t.Fatalf("expected underlying transient error, got %v", err)
	}
	// 1 initial attempt + MaxRetries retries.
	if flaky.calls != 4 {
		t.Errorf("expected 4 attempts, got %d", flaky.calls)
	}
}

func TestRetryingDoesNotRetryTerminalErrors(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		err  error
	}{
		{"conflict", ErrConflict},
		{"not found", ErrNotFound},
		{"closed", ErrClosed},
		{"context canceled", context.Canceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flaky := newFlakyStore(100, tt.err)
			store := NewRetrying[testState](flaky, fastRetryConfig())

			_, err := store.Append(ctx, Checkpoint[testState]{RunID: "r", Sequence: 0})
			if !errors.Is(err, tt.err) {
				t.Fatalf("expected %v, got %v", tt.err, err)
			}
			if flaky.calls != 1 {
				t.Errorf("terminal error must not be retried, got %d attempts", flaky.calls)
			}
		})
	}
}

func TestRetryingPassesThroughReads(t *testing.T) {
	ctx := context.Background()
	flaky := newFlakyStore(0, nil)
	store := NewRetrying[testState](flaky, fastRetryConfig())

	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	if _, err := store.Append(ctx, Checkpoint[testState]{RunID: "r", Sequence: 0, ProducedBy: "n"}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	latest, err := store.LoadLatest(ctx, "r")
	if err != nil {
		t.Fatalf("LoadLatest: %v", err)
	}
	if latest.Sequence != 0 {
		t.Errorf("expected sequence 0, got %d", latest.Sequence)
	}

	history, err := store.List(ctx, "r")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(history) != 1 {
		t.Errorf("expected 1 checkpoint, got %d", len(history))
	}

	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
