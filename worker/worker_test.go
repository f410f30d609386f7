package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/flowstate-io/flowstate/flow"
	"github.com/flowstate-io/flowstate/flow/checkpoint"
)

func testConfig(concurrency int) Config {
	return Config{
		Name:         "test-worker",
		Driver:       DriverSQLite,
		DSN:          ":memory:",
		MaxSteps:     100,
		Concurrency:  concurrency,
		PollInterval: 10 * time.Millisecond,
	}
}

// countingGraph increments state["count"] until it reaches target.
func countingGraph(t *testing.T, target int, onRun func()) *flow.Graph {
	t.Helper()

	g, err := flow.NewBuilder().
		AddNode("tick", func(_ context.Context, s flow.State) (flow.Delta, error) {
			if onRun != nil {
				onRun()
			}
			count, _ := s["count"].(float64)
			return flow.Delta{"count": int(count) + 1}, nil
		}).
		StartAt("tick").
		AddConditionalEdge("tick", func(s flow.State) string {
			if count, _ := s["count"].(float64); int(count) >= target {
				return flow.End
			}
			return "tick"
		}).
		Compile()
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	return g
}

func TestWorkerProcessesJobsUntilDrained(t *testing.T) {
	ctx := context.Background()
	store := checkpoint.NewMemStore[flow.State]()
	defer func() { _ = store.Close() }()

	source := NewQueueSource(3)
	for i := 0; i < 3; i++ {
		source.Enqueue(Job{
			RunID:   fmt.Sprintf("run-%d", i),
			Initial: flow.State{"count": 0},
		})
	}
	source.Close()

	w := New(testConfig(1), countingGraph(t, 3, nil), store, source, nil)
	if err := w.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Every job ran to completion with one checkpoint per step.
	for i := 0; i < 3; i++ {
		runID := fmt.Sprintf("run-%d", i)
		history, err := store.List(ctx, runID)
		if err != nil {
			t.Fatalf("List %s: %v", runID, err)
		}
		if len(history) != 3 {
			t.Errorf("%s: expected 3 checkpoints, got %d", runID, len(history))
		}
	}
}

func TestWorkerRespectsConcurrencyLimit(t *testing.T) {
	ctx := context.Background()
	store := checkpoint.NewMemStore[flow.State]()
	defer func() { _ = store.Close() }()

	var inFlight, peak atomic.Int32
	observe := func() {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
	}

	const jobs = 6
	source := NewQueueSource(jobs)
	for i := 0; i < jobs; i++ {
		source.Enqueue(Job{RunID: fmt.Sprintf("run-%d", i), Initial: flow.State{"count": 0}})
	}
	source.Close()

	w := New(testConfig(2), countingGraph(t, 2, observe), store, source, nil)
	if err := w.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := peak.Load(); got > 2 {
		t.Errorf("peak concurrent steps = %d, want <= 2", got)
	}
}

func TestWorkerStopsAcquiringOnShutdown(t *testing.T) {
	store := checkpoint.NewMemStore[flow.State]()
	defer func() { _ = store.Close() }()

	ctx, cancel := context.WithCancel(context.Background())

	// The run cancels its own context two steps in, standing in for a stop
	// signal arriving mid-run. The executor persists the in-flight step, the
	// worker declines further jobs and returns cleanly.
	var steps atomic.Int32
	onRun := func() {
		if steps.Add(1) == 2 {
			cancel()
		}
	}

	source := NewQueueSource(2)
	source.Enqueue(Job{RunID: "interrupted", Initial: flow.State{"count": 0}})
	source.Enqueue(Job{RunID: "never-started", Initial: flow.State{"count": 0}})

	var wg sync.WaitGroup
	wg.Add(1)
	var runErr error
	w := New(testConfig(1), countingGraph(t, 50, onRun), store, source, nil)
	go func() {
		defer wg.Done()
		runErr = w.Run(ctx)
	}()
	wg.Wait()

	if runErr != nil {
		t.Fatalf("Run: %v", runErr)
	}

	// The in-flight step's checkpoint survived, keeping the run resumable.
	history, err := store.List(context.Background(), "interrupted")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(history) != 2 {
		t.Errorf("expected 2 checkpoints for the interrupted run, got %d", len(history))
	}

	// After resuming with a live context, the run picks up where it stopped.
	resumeSource := NewQueueSource(1)
	resumeSource.Enqueue(Job{RunID: "interrupted"})
	resumeSource.Close()

	resumeWorker := New(testConfig(1), countingGraph(t, 4, nil), store, resumeSource, nil)
	if err := resumeWorker.Run(context.Background()); err != nil {
		t.Fatalf("resume Run: %v", err)
	}
	history, _ = store.List(context.Background(), "interrupted")
	if len(history) != 4 {
		t.Errorf("expected 4 checkpoints after resume, got %d", len(history))
	}
}

func TestWorkerOpenStoreSQLite(t *testing.T) {
	cfg := testConfig(1)
	cfg.DSN = t.TempDir() + "/worker.db"

	store, err := OpenStore(cfg)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	if _, err := store.Append(ctx, checkpoint.Checkpoint[flow.State]{
		RunID:      "r",
		Sequence:   0,
		State:      flow.State{"ok": true},
		ProducedBy: "n",
	}); err != nil {
		t.Fatalf("Append: %v", err)
	}
}

func TestWorkerOpenStoreUnknownDriver(t *testing.T) {
	cfg := testConfig(1)
	cfg.Driver = "postgres"

	if _, err := OpenStore(cfg); err == nil {
		t.Error("expected error for unknown driver")
	}
}
