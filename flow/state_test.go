package flow

import (
	"testing"
)

func TestCloneStateIsolation(t *testing.T) {
	original := State{
		"count":  float64(1),
		"nested": map[string]any{"inner": "value"},
		"list":   []any{"a"},
	}

	copied, err := cloneState(original)
	if err != nil {
		t.Fatalf("cloneState: %v", err)
	}

	copied["count"] = float64(99)
	copied["nested"].(map[string]any)["inner"] = "mutated"
	copied["list"] = append(copied["list"].([]any), "b")

	if original["count"] != float64(1) {
		t.Errorf("top-level mutation leaked: %v", original["count"])
	}
	if original["nested"].(map[string]any)["inner"] != "value" {
		t.Error("nested map mutation leaked into original")
	}
	if len(original["list"].([]any)) != 1 {
		t.Error("slice mutation leaked into original")
	}
}

func TestCloneStateNormalizesNumbers(t *testing.T) {
	// Nodes see values in their persisted shape: JSON numbers are float64
	// whether the run is fresh or resumed from a checkpoint.
	copied, err := cloneState(State{"count": 7})
	if err != nil {
		t.Fatalf("cloneState: %v", err)
	}
	if _, ok := copied["count"].(float64); !ok {
		t.Errorf("expected float64 after round trip, got %T", copied["count"])
	}
}

func TestCloneStateNil(t *testing.T) {
	copied, err := cloneState(nil)
	if err != nil {
		t.Fatalf("cloneState(nil): %v", err)
	}
	if copied == nil {
		t.Fatal("expected non-nil empty state")
	}
	if len(copied) != 0 {
		t.Errorf("expected empty state, got %v", copied)
	}
}

func TestCloneStateUnserializable(t *testing.T) {
	_, err := cloneState(State{"ch": make(chan int)})
	if err == nil {
		t.Fatal("expected error for unserializable value")
	}
}
