package flow

import (
	"context"
	"fmt"
	"time"
)

// WithTimeout wraps a node with a per-invocation deadline.
//
// The executor imposes no step-level timeout of its own; cancellation is
// cooperative and a node that never returns cannot be interrupted. Graph
// authors bound slow steps by wrapping them:
//
//	b.AddNode("enrich", flow.WithTimeout(enrichNode, 30*time.Second))
//
// When the deadline passes, the node's context is cancelled and, if the node
// returns the context error, the run fails with a StepError wrapping
// context.DeadlineExceeded. A node that ignores its context keeps running;
// the wrapper cannot force it to stop.
func WithTimeout(fn NodeFunc, timeout time.Duration) NodeFunc {
	if timeout <= 0 {
		return fn
	}

	return func(ctx context.Context, state State) (Delta, error) {
		timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		delta, err := fn(timeoutCtx, state)
		if err != nil && timeoutCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return nil, fmt.Errorf("node exceeded timeout of %v: %w", timeout, err)
		}
		return delta, err
	}
}
