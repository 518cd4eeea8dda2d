// Package metrics exposes Prometheus instrumentation for settlement sweeps.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector aggregates the engine's operational metrics. A nil Collector
// is valid and records nothing, so components never need to branch.
type Collector struct {
	registry            *prometheus.Registry
	sharesCalculated    prometheus.Counter
	runsCompleted       prometheus.Counter
	runsFailed          prometheus.Counter
	runsCancelled       prometheus.Counter
	discrepanciesFound  *prometheus.CounterVec
	payoutDuration      prometheus.Histogram
	auditEntriesDropped prometheus.Counter
}

// NewCollector creates a collector with its own registry.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	return &Collector{
		registry: registry,
		sharesCalculated: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "settlement_revenue_shares_calculated_total",
			Help: "Total number of revenue shares calculated",
		}),
		runsCompleted: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "settlement_remittance_runs_completed_total",
			Help: "Total number of completed remittance runs",
		}),
		runsFailed: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "settlement_remittance_runs_failed_total",
			Help: "Total number of failed remittance runs",
		}),
		runsCancelled: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "settlement_remittance_runs_cancelled_total",
			Help: "Total number of below-threshold cancelled runs",
		}),
		discrepanciesFound: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_discrepancies_found_total",
			Help: "Total discrepancies detected by reconciliation",
		}, []string{"type"}),
		payoutDuration: promauto.With(registry).NewHistogram(prometheus.HistogramOpts{
			Name:    "settlement_payout_duration_seconds",
			Help:    "Time taken by payout rail calls",
			Buckets: prometheus.DefBuckets,
		}),
		auditEntriesDropped: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "settlement_audit_entries_dropped_total",
			Help: "Audit entries lost to write failures",
		}),
	}
}

// Handler returns an HTTP handler serving the collector's registry.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ShareCalculated records one calculated revenue share.
func (c *Collector) ShareCalculated() {
	if c != nil {
		c.sharesCalculated.Inc()
	}
}

// RunCompleted records one completed remittance run.
func (c *Collector) RunCompleted() {
	if c != nil {
		c.runsCompleted.Inc()
	}
}

// RunFailed records one failed remittance run.
func (c *Collector) RunFailed() {
	if c != nil {
		c.runsFailed.Inc()
	}
}

// RunCancelled records one below-threshold cancelled run.
func (c *Collector) RunCancelled() {
	if c != nil {
		c.runsCancelled.Inc()
	}
}

// DiscrepancyFound records one detected discrepancy by type.
func (c *Collector) DiscrepancyFound(discrepancyType string) {
	if c != nil {
		c.discrepanciesFound.WithLabelValues(discrepancyType).Inc()
	}
}

// ObservePayout records the duration of one payout rail call.
func (c *Collector) ObservePayout(d time.Duration) {
	if c != nil {
		c.payoutDuration.Observe(d.Seconds())
	}
}

// AuditEntryDropped records one lost audit write.
func (c *Collector) AuditEntryDropped() {
	if c != nil {
		c.auditEntriesDropped.Inc()
	}
}
