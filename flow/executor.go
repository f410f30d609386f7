package flow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/flowstate-io/flowstate/flow/checkpoint"
	"github.com/flowstate-io/flowstate/flow/emit"
)

// Executor drives runs of compiled graphs against a checkpoint store.
//
// For each step the executor loads nothing and saves exactly one checkpoint:
// execute the current node, merge its update via the graph's reducers,
// append the checkpoint, then evaluate the outgoing edge to pick the next
// node. A run resumes from its latest persisted checkpoint, so a process
// restart between any two steps loses no completed work.
//
// Concurrency: an Executor is safe for concurrent Execute calls, and multiple
// executors (in one process or many) may be pointed at the same run. The
// store's unique (run ID, sequence) constraint guarantees at most one
// effective advance per sequence; losers observe the conflict and abandon
// their attempt without error. The executor performs no run-level locking or
// leader election beyond this optimistic check.
type Executor struct {
	store checkpoint.Store[State]
	cfg   executorConfig
}

// NewExecutor creates an Executor over the given store.
//
// Example:
//
//	store := checkpoint.NewMemStore[flow.State]()
//	exec := flow.NewExecutor(store, flow.WithMaxSteps(100))
//	final, err := exec.Execute(ctx, g, "run-001", flow.State{"count": 0})
func NewExecutor(store checkpoint.Store[State], opts ...Option) *Executor {
	cfg := executorConfig{
		emitter: emit.NewNullEmitter(),
		logger:  hclog.NewNullLogger(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Executor{store: store, cfg: cfg}
}

// Execute runs the graph for the given run ID until End, failure, or
// cancellation, returning the final state.
//
// An empty runID generates a fresh one; otherwise the run resumes from its
// latest checkpoint and initial is ignored. Resuming a run that already
// reached End returns its final state without executing anything.
//
// Cancellation is cooperative and checked only between steps, never mid-step:
// when ctx is cancelled, the in-flight step finishes, its checkpoint is
// persisted, and Execute returns the state with ErrCancelled. The run stays
// resumable from that checkpoint.
//
// When a concurrent executor advances the run first, this attempt is
// abandoned silently: Execute returns the locally observed state and a nil
// error. Callers that need the authoritative state should re-load it from
// the store.
func (e *Executor) Execute(ctx context.Context, g *Graph, runID string, initial State) (State, error) {
	if g == nil {
		return nil, errors.New("flow: graph is required")
	}
	if e.store == nil {
		return nil, errors.New("flow: checkpoint store is required")
	}
	if runID == "" {
		runID = uuid.NewString()
	}

	logger := e.cfg.logger.With("run_id", runID)

	state, current, seq, err := e.resume(ctx, g, runID, initial)
	if err != nil {
		return nil, err
	}
	if current == End {
		logger.Debug("run already complete", "sequence", seq-1)
		return state, nil
	}

	e.cfg.metrics.runStarted()
	defer e.cfg.metrics.runFinished()

	for {
		// Step-count guard on the run's total sequence, so the limit holds
		// across resumes.
		if e.cfg.maxSteps > 0 && seq >= e.cfg.maxSteps {
			logger.Error("step limit exceeded", "max_steps", e.cfg.maxSteps)
			e.emitRun(runID, seq-1, emit.MsgRunFailed, map[string]any{"error": ErrStepLimitExceeded.Error()})
			return state, ErrStepLimitExceeded
		}

		if ctx.Err() != nil {
			logger.Info("run cancelled between steps", "next_node", current)
			e.emitRun(runID, seq-1, emit.MsgRunCancelled, nil)
			return state, ErrCancelled
		}

		fn, ok := g.nodes[current]
		if !ok {
			// Only reachable when a run's history names a node this graph
			// version no longer has.
			return state, &InvalidTransitionError{From: current, To: ""}
		}

		snapshot, err := cloneState(state)
		if err != nil {
			return state, fmt.Errorf("flow: preparing state for %q: %w", current, err)
		}

		started := e.cfg.now()
		delta, err := fn(ctx, snapshot)
		elapsed := e.cfg.now().Sub(started)

		if err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				// The node surfaced the cancellation instead of completing.
				// Nothing was persisted for this step; the prior checkpoint
				// stands.
				e.cfg.metrics.observeStep(current, "cancelled", elapsed)
				e.emitRun(runID, seq-1, emit.MsgRunCancelled, nil)
				return state, ErrCancelled
			}
			e.cfg.metrics.observeStep(current, "error", elapsed)
			stepErr := &StepError{Node: current, Err: err}
			logger.Error("step failed", "node", current, "error", err)
			e.emitRun(runID, seq-1, emit.MsgRunFailed, map[string]any{"node": current, "error": err.Error()})
			return state, stepErr
		}

		// Cancellation checkpoint: the step completed, so its output is
		// reduced and persisted before exiting.
		cancelled := ctx.Err() != nil

		state, err = applyDelta(state, delta, g.reducers)
		if err != nil {
			e.cfg.metrics.observeStep(current, "error", elapsed)
			return state, &StepError{Node: current, Err: err}
		}

		persistCtx := ctx
		if cancelled {
			// The checkpoint for a completed step is written even though the
			// caller's context is gone.
			persistCtx = context.WithoutCancel(ctx)
		}

		writeStart := e.cfg.now()
		cp, err := e.store.Append(persistCtx, checkpoint.Checkpoint[State]{
			RunID:      runID,
			Sequence:   seq,
			State:      state,
			ProducedBy: current,
		})
		if err != nil {
			if errors.Is(err, checkpoint.ErrConflict) {
				// Another executor already advanced this run. Stop working on
				// it locally; this is expected under overlapping workers and
				// is not surfaced as an error.
				e.cfg.metrics.incConflicts()
				logger.Info("abandoning run: concurrent executor advanced it", "sequence", seq)
				e.emitRun(runID, seq, emit.MsgRunAbandoned, map[string]any{"node": current})
				return state, nil
			}
			return state, fmt.Errorf("flow: persisting checkpoint %d for run %s: %w", seq, runID, err)
		}
		e.cfg.metrics.observeCheckpointWrite(e.cfg.now().Sub(writeStart))
		e.cfg.metrics.observeStep(current, "success", elapsed)

		e.cfg.emitter.Emit(emit.Event{
			RunID:    runID,
			Sequence: cp.Sequence,
			Node:     current,
			Msg:      emit.MsgStepCompleted,
			Meta:     map[string]any{"duration_ms": elapsed.Milliseconds()},
		})
		logger.Debug("step completed", "node", current, "sequence", cp.Sequence)

		if cancelled {
			logger.Info("run cancelled after step", "node", current, "sequence", cp.Sequence)
			e.emitRun(runID, cp.Sequence, emit.MsgRunCancelled, nil)
			return state, ErrCancelled
		}

		next, ok := g.route(current, state)
		if !ok {
			return state, &InvalidTransitionError{From: current, To: ""}
		}
		if next == End {
			logger.Info("run completed", "steps", seq+1)
			e.emitRun(runID, cp.Sequence, emit.MsgRunCompleted, nil)
			return state, nil
		}
		if _, exists := g.nodes[next]; !exists {
			logger.Error("invalid transition", "from", current, "to", next)
			e.emitRun(runID, cp.Sequence, emit.MsgRunFailed, map[string]any{"from": current, "to": next})
			return state, &InvalidTransitionError{From: current, To: next}
		}

		current = next
		seq++
	}
}

// resume determines where execution picks up: from the latest checkpoint when
// the run has history, from the graph entry otherwise. Returns the working
// state, the node to execute next (End when the run already finished), and
// the sequence number for the next checkpoint.
func (e *Executor) resume(ctx context.Context, g *Graph, runID string, initial State) (State, string, int, error) {
	cp, err := e.store.LoadLatest(ctx, runID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		state, cErr := cloneState(initial)
		if cErr != nil {
			return nil, "", 0, fmt.Errorf("flow: preparing initial state: %w", cErr)
		}
		e.emitRun(runID, 0, emit.MsgRunStarted, nil)
		return state, g.entry, 0, nil
	}
	if err != nil {
		return nil, "", 0, fmt.Errorf("flow: loading latest checkpoint for run %s: %w", runID, err)
	}

	next, ok := g.route(cp.ProducedBy, cp.State)
	if !ok {
		return nil, "", 0, &InvalidTransitionError{From: cp.ProducedBy, To: ""}
	}
	if next != End {
		if _, exists := g.nodes[next]; !exists {
			return nil, "", 0, &InvalidTransitionError{From: cp.ProducedBy, To: next}
		}
	}

	e.emitRun(runID, cp.Sequence, emit.MsgRunResumed, map[string]any{"produced_by": cp.ProducedBy})
	return cp.State, next, cp.Sequence + 1, nil
}

func (e *Executor) emitRun(runID string, seq int, msg string, meta map[string]any) {
	e.cfg.emitter.Emit(emit.Event{
		RunID:    runID,
		Sequence: seq,
		Msg:      msg,
		Meta:     meta,
	})
}
