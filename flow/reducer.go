package flow

import (
	"fmt"

	"dario.cat/mergo"
)

// Reducer merges a node's update for one state field into that field's
// previous value. prev is the accumulated value (nil when the field has never
// been set); next is the value the node returned for the field.
//
// Reducers must be deterministic. Within a single step, updates apply in the
// order the node returned them.
type Reducer func(prev, next any) (any, error)

// Overwrite replaces the previous value with the node's value. This is the
// default policy for fields with no declared reducer.
func Overwrite(_, next any) (any, error) {
	return next, nil
}

// Append concatenates the node's value onto the previous slice value.
//
// The previous value must be absent or a slice; the node's value may be a
// single element or a slice, in which case its elements are appended in the
// order returned. Useful for ever-growing logs such as message histories.
func Append(prev, next any) (any, error) {
	var acc []any
	switch p := prev.(type) {
	case nil:
	case []any:
		acc = append(acc, p...)
	default:
		return nil, fmt.Errorf("append reducer: previous value is %T, want slice", prev)
	}

	switch n := next.(type) {
	case []any:
		acc = append(acc, n...)
	default:
		acc = append(acc, n)
	}

	return acc, nil
}

// MergeMap deep-merges the node's map value over the previous map value.
// Keys present in the update override keys in the previous value; keys absent
// from the update are kept.
func MergeMap(prev, next any) (any, error) {
	if prev == nil {
		return next, nil
	}

	prevMap, ok := prev.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("merge-map reducer: previous value is %T, want map", prev)
	}
	nextMap, ok := next.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("merge-map reducer: update value is %T, want map", next)
	}

	merged := make(map[string]any, len(prevMap))
	for k, v := range prevMap {
		merged[k] = v
	}
	if err := mergo.Merge(&merged, nextMap, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("merge-map reducer: %w", err)
	}

	return merged, nil
}

// applyDelta merges a node's partial update into the accumulated state using
// the graph's per-field reducers. Fields without a declared reducer use
// Overwrite. The input state is modified in place; it is always the
// executor's private copy.
func applyDelta(state State, delta Delta, reducers map[string]Reducer) (State, error) {
	if state == nil {
		state = State{}
	}

	for field, next := range delta {
		reduce := reducers[field]
		if reduce == nil {
			reduce = Overwrite
		}

		merged, err := reduce(state[field], next)
		if err != nil {
			return nil, fmt.Errorf("reducing field %q: %w", field, err)
		}
		state[field] = merged
	}

	return state, nil
}
