package mathdoc

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "mathdoc"

// Metrics holds the Prometheus collectors for a Library. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	CommandsTotal       *prometheus.CounterVec
	TransactionsTotal   *prometheus.CounterVec
	SnapshotWritesTotal *prometheus.CounterVec
	LoadsTotal          *prometheus.CounterVec
	RenderFailuresTotal prometheus.Counter
	NodesSkippedTotal   prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg. Pass
// prometheus.DefaultRegisterer to expose them globally, or a fresh
// prometheus.NewRegistry() in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "commands",
			Name:      "dispatched_total",
			Help:      "Commands dispatched, by command and whether a handler took it",
		}, []string{"command", "handled"}),
		TransactionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "editor",
			Name:      "transactions_total",
			Help:      "Finished write transactions, by result",
		}, []string{"result"}),
		SnapshotWritesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "persistence",
			Name:      "writes_total",
			Help:      "Snapshot writes to the durable store, by result",
		}, []string{"result"}),
		LoadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "persistence",
			Name:      "loads_total",
			Help:      "Initial document loads, by source",
		}, []string{"source"}),
		RenderFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "math",
			Name:      "render_failures_total",
			Help:      "Equations the typesetter rejected",
		}),
		NodesSkippedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "persistence",
			Name:      "nodes_skipped_total",
			Help:      "Snapshot nodes dropped because their type is not registered",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.CommandsTotal,
			m.TransactionsTotal,
			m.SnapshotWritesTotal,
			m.LoadsTotal,
			m.RenderFailuresTotal,
			m.NodesSkippedTotal,
		)
	}
	return m
}

func (m *Metrics) command(name string, handled bool) {
	if m == nil {
		return
	}
	m.CommandsTotal.WithLabelValues(name, strconv.FormatBool(handled)).Inc()
}

func (m *Metrics) transaction(result string) {
	if m == nil {
		return
	}
	m.TransactionsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) snapshotWrite(err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.SnapshotWritesTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) load(source LoadSource) {
	if m == nil {
		return
	}
	m.LoadsTotal.WithLabelValues(source.String()).Inc()
}

func (m *Metrics) renderFailure() {
	if m == nil {
		return
	}
	m.RenderFailuresTotal.Inc()
}

func (m *Metrics) nodesSkipped(n int) {
	if m == nil || n == 0 {
		return
	}
	m.NodesSkippedTotal.Add(float64(n))
}
