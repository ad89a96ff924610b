// Metrics: counters and histograms covering issuance volume by taxonomy
// code, issuance latency, batch size, batch-commit latency, and
// ledger-call latency, registered on a private registry and exposed on
// /metrics via promhttp.HandlerFor (§10.7).
package server

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every collector this service registers.
type Metrics struct {
	registry *prometheus.Registry

	IssuanceTotal     *prometheus.CounterVec
	IssuanceDuration  prometheus.Histogram
	BatchSize         prometheus.Histogram
	BatchCommitLatency prometheus.Histogram
	LedgerCallLatency *prometheus.HistogramVec
}

// NewMetrics constructs and registers every collector on a fresh
// registry, so /metrics never leaks Go runtime defaults a caller did not
// ask for.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		IssuanceTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "attestd",
			Subsystem: "issuance",
			Name:      "total",
			Help:      "Attestation issuance attempts by outcome code.",
		}, []string{"code"}),
		IssuanceDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "attestd",
			Subsystem: "issuance",
			Name:      "duration_seconds",
			Help:      "Latency of one POST /issue request, from credential resolution through the coordinator's result.",
			Buckets:   prometheus.DefBuckets,
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "attestd",
			Subsystem: "batch",
			Name:      "leaf_count",
			Help:      "Number of leaves in each committed batch.",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250, 500},
		}),
		BatchCommitLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "attestd",
			Subsystem: "batch",
			Name:      "commit_duration_seconds",
			Help:      "Latency of one batch cycle, tree build through ledger commit.",
			Buckets:   prometheus.DefBuckets,
		}),
		LedgerCallLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "attestd",
			Subsystem: "ledger",
			Name:      "call_duration_seconds",
			Help:      "Latency of external ledger calls by operation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}

	registry.MustRegister(
		m.IssuanceTotal,
		m.IssuanceDuration,
		m.BatchSize,
		m.BatchCommitLatency,
		m.LedgerCallLatency,
	)
	return m
}

// Handler returns the /metrics HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveIssuance records the outcome and latency of one issue-attestation
// call.
func (m *Metrics) ObserveIssuance(code string, start time.Time) {
	m.IssuanceTotal.WithLabelValues(code).Inc()
	m.IssuanceDuration.Observe(time.Since(start).Seconds())
}

// ObserveBatch records the leaf count and cycle latency of one committed
// batch.
func (m *Metrics) ObserveBatch(leafCount int, start time.Time) {
	m.BatchSize.Observe(float64(leafCount))
	m.BatchCommitLatency.Observe(time.Since(start).Seconds())
}

// ObserveLedgerCall records the latency of one external ledger operation.
func (m *Metrics) ObserveLedgerCall(operation string, start time.Time) {
	m.LedgerCallLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
