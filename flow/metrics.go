package flow

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects Prometheus metrics for workflow execution.
//
// Metrics exposed (namespace "flowstate"):
//
//   - steps_total (counter, labels: node, status): node executions by
//     outcome. Status is one of "success", "error", "cancelled".
//   - checkpoint_conflicts_total (counter): appends lost to a concurrent
//     executor. A steady nonzero rate means workers are overlapping on the
//     same runs.
//   - step_duration_seconds (histogram, label: node): node execution time.
//   - checkpoint_write_seconds (histogram): store append latency.
//   - active_runs (gauge): runs currently being driven by this process.
//
// Expose via promhttp:
//
//	registry := prometheus.NewRegistry()
//	metrics := flow.NewMetrics(registry)
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
type Metrics struct {
	steps               *prometheus.CounterVec
	checkpointConflicts prometheus.Counter
	stepDuration        *prometheus.HistogramVec
	checkpointWrite     prometheus.Histogram
	activeRuns          prometheus.Gauge
}

// NewMetrics creates and registers the execution metrics with the given
// registry (prometheus.DefaultRegisterer when nil).
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		steps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowstate",
			Name:      "steps_total",
			Help:      "Node executions by outcome",
		}, []string{"node", "status"}),
		checkpointConflicts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "flowstate",
			Name:      "checkpoint_conflicts_total",
			Help:      "Checkpoint appends lost to a concurrent executor",
		}),
		stepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "flowstate",
			Name:      "step_duration_seconds",
			Help:      "Node execution duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"node"}),
		checkpointWrite: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "flowstate",
			Name:      "checkpoint_write_seconds",
			Help:      "Checkpoint append latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		activeRuns: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "flowstate",
			Name:      "active_runs",
			Help:      "Runs currently executing in this process",
		}),
	}
}

func (m *Metrics) observeStep(node, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.steps.WithLabelValues(node, status).Inc()
	m.stepDuration.WithLabelValues(node).Observe(d.Seconds())
}

func (m *Metrics) observeCheckpointWrite(d time.Duration) {
	if m == nil {
		return
	}
	m.checkpointWrite.Observe(d.Seconds())
}

func (m *Metrics) incConflicts() {
	if m == nil {
		return
	}
	m.checkpointConflicts.Inc()
}

func (m *Metrics) runStarted() {
	if m == nil {
		return
	}
	m.activeRuns.Inc()
}

func (m *Metrics) runFinished() {
	if m == nil {
		return
	}
	m.activeRuns.Dec()
}
