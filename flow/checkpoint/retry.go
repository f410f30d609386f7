package checkpoint

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryConfig bounds the backoff applied by Retrying.
//
// Zero values fall back to defaults: 100ms initial interval, 5s max interval,
// 4 retries (5 attempts total).
type RetryConfig struct {
	// InitialInterval is the first backoff delay.
	InitialInterval time.Duration

	// MaxInterval caps the exponential growth of the delay.
	MaxInterval time.Duration

	// MaxRetries is the number of retries after the first attempt.
	MaxRetries uint64
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.InitialInterval <= 0 {
		c.InitialInterval = 100 * time.Millisecond
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 5 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 4
	}
	return c
}

// Retrying decorates a Store with bounded exponential backoff for transient
// storage failures.
//
// Only infrastructure errors are retried. ErrConflict and ErrNotFound are
// expected outcomes, not failures: retrying a conflicting Append would defeat
// the single-writer-wins check, so both are surfaced immediately. ErrClosed
// and context cancellation are likewise terminal.
//
// Example:
//
//	inner, _ := checkpoint.NewMySQLStore[flow.State](dsn, checkpoint.MySQLConfig{})
//	store := checkpoint.NewRetrying[flow.State](inner, checkpoint.RetryConfig{})
type Retrying[S any] struct {
	inner Store[S]
	cfg   RetryConfig
}

// NewRetrying wraps inner with the given retry policy.
func NewRetrying[S any](inner Store[S], cfg RetryConfig) *Retrying[S] {
	return &Retrying[S]{inner: inner, cfg: cfg.withDefaults()}
}

// EnsureSchema retries schema creation on transient failures.
func (r *Retrying[S]) EnsureSchema(ctx context.Context) error {
	return r.retry(ctx, func() error {
		return r.inner.EnsureSchema(ctx)
	})
}

// Append retries transient failures; ErrConflict is returned immediately.
func (r *Retrying[S]) Append(ctx context.Context, cp Checkpoint[S]) (Checkpoint[S], error) {
	var out Checkpoint[S]
	err := r.retry(ctx, func() error {
		var err error
		out, err = r.inner.Append(ctx, cp)
		return err
	})
	return out, err
}

// LoadLatest retries transient failures; ErrNotFound is returned immediately.
func (r *Retrying[S]) LoadLatest(ctx context.Context, runID string) (Checkpoint[S], error) {
	var out Checkpoint[S]
	err := r.retry(ctx, func() error {
		var err error
		out, err = r.inner.LoadLatest(ctx, runID)
		return err
	})
	return out, err
}

// List retries transient failures.
func (r *Retrying[S]) List(ctx context.Context, runID string) ([]Checkpoint[S], error) {
	var out []Checkpoint[S]
	err := r.retry(ctx, func() error {
		var err error
		out, err = r.inner.List(ctx, runID)
		return err
	})
	return out, err
}

// Close closes the wrapped store. Never retried.
func (r *Retrying[S]) Close() error {
	return r.inner.Close()
}

func (r *Retrying[S]) retry(ctx context.Context, op func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.cfg.InitialInterval
	policy.MaxInterval = r.cfg.MaxInterval

	wrapped := func() error {
		err := op()
		if err == nil {
			return nil
		}
		if isTerminal(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	err := backoff.Retry(wrapped,
		backoff.WithContext(backoff.WithMaxRetries(policy, r.cfg.MaxRetries), ctx))

	// backoff.Permanent is unwrapped by Retry; sentinel comparisons still work.
	return err
}

// isTerminal reports whether err must not be retried.
func isTerminal(err error) bool {
	return errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrClosed) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
