package flow

import (
	"errors"
	"fmt"
)

// ErrStepLimitExceeded indicates a run reached the configured maximum step
// count without completing. The checkpoint for the last successful step is
// preserved, so the run can be inspected or resumed with a higher limit.
var ErrStepLimitExceeded = errors.New("flow: run exceeded maximum steps limit")

// ErrCancelled indicates execution was cancelled cooperatively between steps.
// The completed step's checkpoint was persisted before exit, so the run
// remains resumable from exactly where it stopped.
var ErrCancelled = errors.New("flow: run cancelled")

// CompileError reports an invalid graph definition. These are programming
// errors in the graph, never retried.
type CompileError struct {
	Code    string
	Message string
}

func (e *CompileError) Error() string {
	if e.Code != "" {
		return "flow: compile: " + e.Code + ": " + e.Message
	}
	return "flow: compile: " + e.Message
}

// StepError reports that a node function failed. It is fatal for the run;
// the checkpoint of the prior successful step remains, so resubmitting the
// same run ID retries from there rather than restarting from scratch.
type StepError struct {
	// Node is the step whose function returned the error.
	Node string

	// Err is the underlying error from the node.
	Err error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("flow: step %q failed: %v", e.Node, e.Err)
}

// Unwrap returns the node's underlying error.
func (e *StepError) Unwrap() error {
	return e.Err
}

// InvalidTransitionError reports that a conditional edge routed to a step
// name that is not a node and not End. This is a programming error in the
// graph's routing logic, surfaced rather than silently treated as End.
type InvalidTransitionError struct {
	// From is the step whose edge produced the bad target.
	From string

	// To is the unknown target.
	To string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("flow: invalid transition from %q to unknown step %q", e.From, e.To)
}
