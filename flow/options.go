package flow

import (
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/flowstate-io/flowstate/flow/emit"
)

// Option configures an Executor.
//
// Functional options keep construction terse while leaving room for growth:
//
//	exec := flow.NewExecutor(store,
//	    flow.WithMaxSteps(100),
//	    flow.WithEmitter(emit.NewLogEmitter(os.Stdout, false)),
//	)
type Option func(*executorConfig)

type executorConfig struct {
	maxSteps int
	emitter  emit.Emitter
	metrics  *Metrics
	logger   hclog.Logger
	now      func() time.Time
}

// WithMaxSteps bounds the total number of steps a run may take across all
// execution attempts, counted by checkpoint sequence. Zero means no limit.
//
// Loops are allowed in graphs, so a missing conditional exit can spin
// forever; MaxSteps is the runtime guard. Exceeding the limit fails the run
// with ErrStepLimitExceeded; the last successful step's checkpoint remains.
func WithMaxSteps(n int) Option {
	return func(cfg *executorConfig) {
		cfg.maxSteps = n
	}
}

// WithEmitter sets the observability event receiver. Defaults to a
// NullEmitter.
func WithEmitter(e emit.Emitter) Option {
	return func(cfg *executorConfig) {
		cfg.emitter = e
	}
}

// WithMetrics sets the Prometheus metrics collector. Defaults to none.
func WithMetrics(m *Metrics) Option {
	return func(cfg *executorConfig) {
		cfg.metrics = m
	}
}

// WithLogger sets the structured logger. Defaults to a no-op logger.
func WithLogger(l hclog.Logger) Option {
	return func(cfg *executorConfig) {
		cfg.logger = l
	}
}

// withClock overrides the executor's clock. Test seam.
func withClock(now func() time.Time) Option {
	return func(cfg *executorConfig) {
		cfg.now = now
	}
}
