package chronograph

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsListener exports run activity as Prometheus metrics. Subscribe it
// to an engine and the metrics populate themselves from timeline events.
// Use one registry per listener; registering two listeners with the same
// registry panics on duplicate metric names.
type MetricsListener struct {
	eventsTotal      *prometheus.CounterVec
	runsStarted      prometheus.Counter
	runsFinished     *prometheus.CounterVec
	nodesTotal       *prometheus.CounterVec
	retriesTotal     *prometheus.CounterVec
	nodeDurationMs   *prometheus.HistogramVec
	checkpointsTotal prometheus.Counter
	rewindsTotal     prometheus.Counter
}

// NewMetricsListener creates and registers all run metrics with the given
// registry. Pass nil to use the default Prometheus registerer.
func NewMetricsListener(registry prometheus.Registerer) *MetricsListener {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &MetricsListener{
		eventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chronograph",
			Name:      "events_total",
			Help:      "Timeline events recorded, by type",
		}, []string{"type"}),
		runsStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "chronograph",
			Name:      "runs_started_total",
			Help:      "Workflow runs started",
		}),
		runsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chronograph",
			Name:      "runs_finished_total",
			Help:      "Workflow runs finished, by terminal status",
		}, []string{"status"}),
		nodesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chronograph",
			Name:      "nodes_total",
			Help:      "Node executions resolved, by outcome",
		}, []string{"node_id", "status"}),
		retriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chronograph",
			Name:      "retries_total",
			Help:      "Retry attempts consumed by nodes",
		}, []string{"node_id"}),
		nodeDurationMs: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "chronograph",
			Name:      "node_duration_ms",
			Help:      "Node execution duration in milliseconds",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
		}, []string{"node_id", "status"}),
		checkpointsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "chronograph",
			Name:      "checkpoints_total",
			Help:      "Checkpoints created",
		}),
		rewindsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "chronograph",
			Name:      "rewinds_total",
			Help:      "Rewinds performed",
		}),
	}
}

// HandleEvent implements EventListener.
func (m *MetricsListener) HandleEvent(ctx context.Context, event *Event) {
	m.eventsTotal.WithLabelValues(string(event.Type)).Inc()

	switch event.Type {
	case EventWorkflowStarted:
		m.runsStarted.Inc()
	case EventWorkflowCompleted:
		m.runsFinished.WithLabelValues(string(WorkflowStatusCompleted)).Inc()
	case EventWorkflowFailed:
		m.runsFinished.WithLabelValues(string(WorkflowStatusFailed)).Inc()
	case EventNodeCompleted:
		m.observeNode(event, string(NodeStatusCompleted))
	case EventNodeFailed:
		m.observeNode(event, string(NodeStatusFailed))
	case EventCheckpointCreated:
		m.checkpointsTotal.Inc()
	case EventWorkflowRewound:
		m.rewindsTotal.Inc()
	}
}

func (m *MetricsListener) observeNode(event *Event, status string) {
	m.nodesTotal.WithLabelValues(event.NodeID, status).Inc()
	if ms, ok := eventNumber(event, "duration_ms"); ok {
		m.nodeDurationMs.WithLabelValues(event.NodeID, status).Observe(ms)
	}
	if attempts, ok := eventNumber(event, "attempts"); ok && attempts > 1 {
		m.retriesTotal.WithLabelValues(event.NodeID).Add(attempts - 1)
	}
}

// eventNumber reads a numeric field from event data, tolerating the int and
// float64 forms that appear before and after a JSON round trip.
func eventNumber(event *Event, key string) (float64, bool) {
	if event.Data == nil {
		return 0, false
	}
	switch v := event.Data[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}
