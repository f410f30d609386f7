// Command flowstate-worker runs a checkpointing workflow worker against a
// SQLite or MySQL store. Configuration comes from an optional YAML file and
// FLOWSTATE_* environment variables.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/flowstate-io/flowstate/flow"
	"github.com/flowstate-io/flowstate/flow/emit"
	"github.com/flowstate-io/flowstate/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "flowstate-worker:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to YAML config file (optional)")
	flag.Parse()

	cfg, err := worker.LoadConfig(*configPath)
	if err != nil {
		return err
	}

	level := hclog.Info
	if cfg.Debug {
		level = hclog.Debug
	}
	logger := hclog.New(&hclog.LoggerOptions{
		Name:       cfg.Name,
		Level:      level,
		JSONFormat: true,
	})

	store, err := worker.OpenStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	graph, err := buildEnrichmentGraph()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := flow.NewMetrics(prometheus.DefaultRegisterer)

	source := worker.NewQueueSource(cfg.Concurrency)
	source.Enqueue(worker.Job{
		RunID:   uuid.NewString(),
		Initial: flow.State{"count": 0, "notes": []any{}},
	})

	w := worker.New(cfg, graph, store, source, logger,
		flow.WithMetrics(metrics),
		flow.WithEmitter(emit.NewLogEmitter(os.Stdout, true)),
	)
	return w.Run(ctx)
}

// buildEnrichmentGraph wires a small three-node pipeline: intake stamps the
// run, enrich loops until enough notes accumulate, finalize summarizes.
func buildEnrichmentGraph() (*flow.Graph, error) {
	const target = 3

	return flow.NewBuilder().
		AddReducer("notes", flow.Append).
		AddNode("intake", func(ctx context.Context, s flow.State) (flow.Delta, error) {
			return flow.Delta{"status": "enriching"}, nil
		}).
		AddNode("enrich", func(ctx context.Context, s flow.State) (flow.Delta, error) {
			n := stateInt(s, "count") + 1
			return flow.Delta{
				"count": n,
				"notes": []any{fmt.Sprintf("enriched pass %d", n)},
			}, nil
		}).
		AddNode("finalize", func(ctx context.Context, s flow.State) (flow.Delta, error) {
			return flow.Delta{"status": "done"}, nil
		}).
		StartAt("intake").
		AddEdge("intake", "enrich").
		AddConditionalEdge("enrich", func(s flow.State) string {
			if stateInt(s, "count") >= target {
				return "finalize"
			}
			return "enrich"
		}).
		AddEdge("finalize", flow.End).
		Compile()
}

// stateInt reads a numeric state field. JSON round-trips store numbers as
// float64, so both representations are accepted.
func stateInt(s flow.State, key string) int {
	switch v := s[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}
