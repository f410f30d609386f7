// Package emit provides pluggable observability for workflow execution.
//
// The executor reports run lifecycle and per-step progress as Events to an
// Emitter. Backends range from simple log output to OpenTelemetry spans and
// in-memory buffers for tests.
package emit

// Standard event messages emitted by the executor.
const (
	MsgRunStarted    = "run_started"
	MsgRunResumed    = "run_resumed"
	MsgStepCompleted = "step_completed"
	MsgCheckpoint    = "checkpoint_saved"
	MsgRunAbandoned  = "run_abandoned"
	MsgRunCompleted  = "run_completed"
	MsgRunCancelled  = "run_cancelled"
	MsgRunFailed     = "run_failed"
)

// Event is one observation from a run's execution.
type Event struct {
	// RunID identifies the run that emitted this event.
	RunID string `json:"run_id"`

	// Sequence is the checkpoint sequence the event relates to.
	// Negative for run-level events emitted before the first checkpoint.
	Sequence int `json:"sequence"`

	// Node identifies the step the event relates to. Empty string for
	// run-level events.
	Node string `json:"node"`

	// Msg is the event type; see the Msg* constants.
	Msg string `json:"msg"`

	// Meta carries additional structured data, such as "duration_ms" for
	// step completions or "error" for failures.
	Meta map[string]any `json:"meta,omitempty"`
}
