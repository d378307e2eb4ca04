package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Datagram outcomes, used as the "outcome" label of DatagramsTotal.
const (
	OutcomeFiltered     = "filtered"
	OutcomeExcluded     = "excluded"
	OutcomeUnidentified = "unidentified"
	OutcomeTracked      = "tracked"
	OutcomeStoreFailed  = "store_failed"
)

// Metrics holds the engine's Prometheus collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	Datagrams    *prometheus.CounterVec
	FlowsCreated prometheus.Counter
	SynAlerts    prometheus.Counter
	StoreErrors  prometheus.Counter
	FlowEntries  prometheus.Gauge
}

// New creates and registers the engine's collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Datagrams: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowsentry",
			Name:      "datagrams_total",
			Help:      "TCP datagrams seen by the ingestion loop, by outcome.",
		}, []string{"outcome"}),
		FlowsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flowsentry",
			Name:      "flows_created_total",
			Help:      "Flows added to the flow table.",
		}),
		SynAlerts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flowsentry",
			Name:      "syn_alerts_total",
			Help:      "Flow directions that reached the unanswered SYN threshold.",
		}),
		StoreErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flowsentry",
			Name:      "store_errors_total",
			Help:      "Flow table updates dropped because the backing store failed.",
		}),
		FlowEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "flowsentry",
			Name:      "flow_table_entries",
			Help:      "Flows currently held by the flow table.",
		}),
	}
	m.registry.MustRegister(m.Datagrams, m.FlowsCreated, m.SynAlerts, m.StoreErrors, m.FlowEntries)
	for _, outcome := range []string{OutcomeFiltered, OutcomeExcluded, OutcomeUnidentified, OutcomeTracked, OutcomeStoreFailed} {
		m.Datagrams.WithLabelValues(outcome)
	}
	return m
}

// Registry exposes the registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
