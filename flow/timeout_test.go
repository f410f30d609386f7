package flow

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestWithTimeoutPassesThroughFastNodes(t *testing.T) {
	fn := WithTimeout(func(_ context.Context, _ State) (Delta, error) {
		return Delta{"ok": true}, nil
	}, time.Second)

	delta, err := fn(context.Background(), State{})
	if err != nil {
		t.Fatalf("wrapped node: %v", err)
	}
	if delta["ok"] != true {
		t.Errorf("expected delta, got %v", delta)
	}
}

func TestWithTimeoutExpires(t *testing.T) {
	fn := WithTimeout(func(ctx context.Context, _ State) (Delta, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return Delta{"ok": true}, nil
		}
	}, 10*time.Millisecond)

	_, err := fn(context.Background(), State{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
}

func TestWithTimeoutPreservesOuterCancellation(t *testing.T) {
	// When the caller's context is already cancelled, the error must stay a
	// plain cancellation so the executor treats it as a shutdown, not a
	// step timeout.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fn := WithTimeout(func(ctx context.Context, _ State) (Delta, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}, time.Second)

	_, err := fn(ctx, State{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected Canceled, got %v", err)
	}
}

func TestWithTimeoutZeroDisables(t *testing.T) {
	called := false
	base := func(_ context.Context, _ State) (Delta, error) {
		called = true
		return nil, nil
	}

	fn := WithTimeout(base, 0)
	if _, err := fn(context.Background(), State{}); err != nil {
		t.Fatalf("wrapped node: %v", err)
	}
	if !called {
		t.Error("expected base node to run")
	}
}
