package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/flowstate-io/flowstate/flow"
	"github.com/flowstate-io/flowstate/flow/checkpoint"
)

// OpenStore constructs the checkpoint store selected by the config, wrapped
// with bounded retry for transient storage failures.
//
// The returned store is an explicitly owned resource: the caller (normally
// the process main) is responsible for Close on every exit path.
func OpenStore(cfg Config) (checkpoint.Store[flow.State], error) {
	var (
		inner checkpoint.Store[flow.State]
		err   error
	)

	switch cfg.Driver {
	case DriverSQLite:
		inner, err = checkpoint.NewSQLiteStore[flow.State](cfg.DSN)
	case DriverMySQL:
		inner, err = checkpoint.NewMySQLStore[flow.State](cfg.DSN, checkpoint.MySQLConfig{
			PoolSize: cfg.PoolSize,
		})
	default:
		return nil, fmt.Errorf("unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s store: %w", cfg.Driver, err)
	}

	return checkpoint.NewRetrying[flow.State](inner, checkpoint.RetryConfig{}), nil
}

// Worker consumes jobs from a Source and drives each run to completion with
// the executor.
//
// Shutdown is cooperative: when the context is cancelled the worker stops
// acquiring new jobs and waits for in-flight runs to persist their current
// step before returning. The store is not closed here; it is passed in as
// an explicitly owned resource and torn down by the caller.
type Worker struct {
	cfg    Config
	graph  *flow.Graph
	store  checkpoint.Store[flow.State]
	source Source
	exec   *flow.Executor
	logger hclog.Logger
}

// New assembles a worker. execOpts are forwarded to the executor in addition
// to the config's MaxSteps and the worker's logger.
func New(cfg Config, g *flow.Graph, store checkpoint.Store[flow.State], source Source, logger hclog.Logger, execOpts ...flow.Option) *Worker {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	opts := append([]flow.Option{
		flow.WithMaxSteps(cfg.MaxSteps),
		flow.WithLogger(logger),
	}, execOpts...)

	return &Worker{
		cfg:    cfg,
		graph:  g,
		store:  store,
		source: source,
		exec:   flow.NewExecutor(store, opts...),
		logger: logger,
	}
}

// Run consumes jobs until the context is cancelled or the source drains.
//
// EnsureSchema is called once before the first job; it is safe even when
// several worker processes start against the same database simultaneously.
// Up to cfg.Concurrency runs execute at once within this process.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensuring schema: %w", err)
	}

	w.logger.Info("worker started",
		"name", w.cfg.Name,
		"driver", w.cfg.Driver,
		"dsn", w.cfg.RedactedDSN(),
		"concurrency", w.cfg.Concurrency,
	)

	sem := make(chan struct{}, w.cfg.Concurrency)
	var wg sync.WaitGroup

	defer func() {
		wg.Wait()
		w.logger.Info("worker stopped", "name", w.cfg.Name)
	}()

	for {
		job, err := w.source.Next(ctx)
		if err != nil {
			switch {
			case errors.Is(err, ErrDrained):
				w.logger.Info("source drained")
				return nil
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				w.logger.Info("shutdown requested, no longer acquiring runs")
				return nil
			default:
				return fmt.Errorf("acquiring next job: %w", err)
			}
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			w.logger.Info("shutdown requested, no longer acquiring runs")
			return nil
		}

		wg.Add(1)
		go func(job Job) {
			defer wg.Done()
			defer func() { <-sem }()
			w.handle(ctx, job)
		}(job)
	}
}

func (w *Worker) handle(ctx context.Context, job Job) {
	logger := w.logger.With("run_id", job.RunID)
	logger.Debug("executing run")

	final, err := w.exec.Execute(ctx, w.graph, job.RunID, job.Initial)
	switch {
	case err == nil:
		logger.Info("run finished", "fields", len(final))
	case errors.Is(err, flow.ErrCancelled):
		logger.Info("run interrupted by shutdown, resumable from last checkpoint")
	default:
		logger.Error("run failed", "error", err)
	}
}
