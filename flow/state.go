// Package flow provides the core graph execution engine for flowstate:
// directed graphs of steps over a shared state, with a durable checkpoint
// written after every step.
package flow

import (
	"fmt"

	"github.com/goccy/go-json"
)

// State is the shared mutable state of a run: an opaque, JSON-serializable
// mapping from field name to value. It is the unit of persistence and the
// unit passed to each node.
//
// Values must survive a JSON round-trip; after a resume, numbers load as
// float64 and nested objects as map[string]any, so nodes should not rely on
// richer in-memory types persisting across restarts.
type State map[string]any

// Delta is a partial state update returned by a node. Each field is merged
// into the accumulated state by that field's reducer.
type Delta map[string]any

// cloneState deep-copies a state via a JSON round-trip.
//
// Nodes receive their own copy so a misbehaving node cannot mutate the
// executor's accumulated state, and so concurrent execution attempts never
// share mutable memory. The round-trip also normalizes values to their
// persisted shape, which keeps fresh runs and resumed runs identical.
func cloneState(s State) (State, error) {
	if s == nil {
		return State{}, nil
	}

	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state: %w", err)
	}

	var copied State
	if err := json.Unmarshal(data, &copied); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	if copied == nil {
		copied = State{}
	}

	return copied, nil
}
