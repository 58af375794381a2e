package flow

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects Prometheus metrics for workflow execution.
//
// Exposed metrics (namespace "specflow"):
//   - nodes_total (counter): node executions by kind and status.
//   - node_duration_seconds (histogram): node execution latency by kind.
//   - workflows_total (counter): terminal workflow outcomes by status.
//   - inflight_workflows (gauge): runs currently inside the engine loop.
//
// Expose via promhttp:
//
//	registry := prometheus.NewRegistry()
//	metrics := flow.NewMetrics(registry)
//	engine := flow.New(st, flow.WithMetrics(metrics))
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
type Metrics struct {
	nodes        *prometheus.CounterVec
	nodeDuration *prometheus.HistogramVec
	workflows    *prometheus.CounterVec
	inflight     prometheus.Gauge
}

// NewMetrics creates and registers the engine metrics with the given
// registry. Pass nil to use the default global registerer.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		nodes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "specflow",
			Name:      "nodes_total",
			Help:      "Node executions by kind and terminal status.",
		}, []string{"kind", "status"}),
		nodeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "specflow",
			Name:      "node_duration_seconds",
			Help:      "Node execution duration in seconds.",
			Buckets:   []float64{.005, .05, .1, .5, 1, 5, 10, 30, 60},
		}, []string{"kind"}),
		workflows: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "specflow",
			Name:      "workflows_total",
			Help:      "Terminal workflow outcomes by status.",
		}, []string{"status"}),
		inflight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "specflow",
			Name:      "inflight_workflows",
			Help:      "Workflow runs currently executing.",
		}),
	}
}

func (m *Metrics) nodeFinished(kind Kind, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.nodes.WithLabelValues(string(kind), status).Inc()
	m.nodeDuration.WithLabelValues(string(kind)).Observe(d.Seconds())
}

func (m *Metrics) workflowFinished(status string) {
	if m == nil {
		return
	}
	m.workflows.WithLabelValues(status).Inc()
}

func (m *Metrics) runStarted() {
	if m == nil {
		return
	}
	m.inflight.Inc()
}

func (m *Metrics) runStopped() {
	if m == nil {
		return
	}
	m.inflight.Dec()
}
