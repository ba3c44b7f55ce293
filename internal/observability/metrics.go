// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
// All record methods are safe on a nil receiver.
type Metrics struct {
	// Ingestion metrics
	EventsIngested    *prometheus.CounterVec
	IngestionErrors   *prometheus.CounterVec
	MarketSnapshots   prometheus.Counter
	NewsItemsIngested prometheus.Counter

	// Decision metrics
	DecisionsEvaluated prometheus.Counter
	DecisionsSkipped   *prometheus.CounterVec
	Entries            prometheus.Counter

	// Execution metrics
	SplitsExecuted *prometheus.CounterVec

	// Position metrics
	Exits           *prometheus.CounterVec
	QuoteFailures   prometheus.Counter
	EmergencyExits  prometheus.Counter
	OpenPositions   prometheus.Gauge
	InvestedCapital prometheus.Gauge

	// Risk metrics
	BreakerOpen prometheus.Gauge

	// Latency metrics
	CycleDuration  *prometheus.HistogramVec
	OracleLatency  prometheus.Histogram
	OracleErrors   prometheus.Counter
	RPCCallLatency *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance registered with reg.
// A nil reg registers with the default Prometheus registry.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "hype_trader"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		// Ingestion metrics
		EventsIngested: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "social_events_total",
			Help:      "Total number of social events ingested by platform",
		}, []string{"platform"}),
		IngestionErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "errors_total",
			Help:      "Total number of ingestion errors by source",
		}, []string{"source"}),
		MarketSnapshots: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "market_snapshots_total",
			Help:      "Total number of market snapshots received",
		}),
		NewsItemsIngested: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "news_items_total",
			Help:      "Total number of news items received",
		}),

		// Decision metrics
		DecisionsEvaluated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "decision",
			Name:      "evaluated_total",
			Help:      "Total number of candidates sent to the decision oracle",
		}),
		DecisionsSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "decision",
			Name:      "skipped_total",
			Help:      "Total number of candidates skipped by reason",
		}, []string{"reason"}),
		Entries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "decision",
			Name:      "entries_total",
			Help:      "Total number of entries executed",
		}),

		// Execution metrics
		SplitsExecuted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "splits_total",
			Help:      "Total number of executed splits by status",
		}, []string{"status"}),

		// Position metrics
		Exits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "position",
			Name:      "exits_total",
			Help:      "Total number of exits by reason",
		}, []string{"reason"}),
		QuoteFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "position",
			Name:      "quote_failures_total",
			Help:      "Total number of failed mark quotes",
		}),
		EmergencyExits: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "position",
			Name:      "emergency_exits_total",
			Help:      "Total number of emergency exits",
		}),
		OpenPositions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "position",
			Name:      "open",
			Help:      "Current number of open positions",
		}),
		InvestedCapital: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "position",
			Name:      "invested_wsol",
			Help:      "Current invested capital across open positions in WSOL",
		}),

		// Risk metrics
		BreakerOpen: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "circuit_breaker_open",
			Help:      "1 when the circuit breaker is open",
		}),

		// Latency metrics
		CycleDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "cycle_duration_seconds",
			Help:      "Cycle duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120},
		}, []string{"cycle"}),
		OracleLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "oracle",
			Name:      "call_latency_seconds",
			Help:      "Decision oracle call latency in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 60},
		}),
		OracleErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "oracle",
			Name:      "errors_total",
			Help:      "Total number of failed decision oracle calls",
		}),
		RPCCallLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "rpc_call_latency_seconds",
			Help:      "Solana RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor returns an HTTP handler serving the metrics of g.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// RecordEvent increments the social events counter.
func (m *Metrics) RecordEvent(platform string) {
	if m == nil {
		return
	}
	m.EventsIngested.WithLabelValues(platform).Inc()
}

// RecordIngestionError records a failed poll or read of an event source.
func (m *Metrics) RecordIngestionError(source string) {
	if m == nil {
		return
	}
	m.IngestionErrors.WithLabelValues(source).Inc()
}

// RecordMarketSnapshot increments the market snapshot counter.
func (m *Metrics) RecordMarketSnapshot() {
	if m == nil {
		return
	}
	m.MarketSnapshots.Inc()
}

// RecordNewsItem increments the news item counter.
func (m *Metrics) RecordNewsItem() {
	if m == nil {
		return
	}
	m.NewsItemsIngested.Inc()
}

// RecordEvaluated increments the evaluated decisions counter.
func (m *Metrics) RecordEvaluated() {
	if m == nil {
		return
	}
	m.DecisionsEvaluated.Inc()
}

// RecordSkip records a skipped candidate.
func (m *Metrics) RecordSkip(reason string) {
	if m == nil {
		return
	}
	m.DecisionsSkipped.WithLabelValues(reason).Inc()
}

// RecordEntry increments the entries counter.
func (m *Metrics) RecordEntry() {
	if m == nil {
		return
	}
	m.Entries.Inc()
}

// RecordSplit records an executed split by status.
func (m *Metrics) RecordSplit(status string) {
	if m == nil {
		return
	}
	m.SplitsExecuted.WithLabelValues(status).Inc()
}

// RecordExit records an exit by reason.
func (m *Metrics) RecordExit(reason string) {
	if m == nil {
		return
	}
	m.Exits.WithLabelValues(reason).Inc()
}

// RecordQuoteFailure increments the mark quote failure counter.
func (m *Metrics) RecordQuoteFailure() {
	if m == nil {
		return
	}
	m.QuoteFailures.Inc()
}

// RecordEmergencyExit increments the emergency exit counter.
func (m *Metrics) RecordEmergencyExit() {
	if m == nil {
		return
	}
	m.EmergencyExits.Inc()
}

// UpdatePortfolio sets the open position and invested capital gauges.
func (m *Metrics) UpdatePortfolio(open int, invested float64) {
	if m == nil {
		return
	}
	m.OpenPositions.Set(float64(open))
	m.InvestedCapital.Set(invested)
}

// SetBreakerOpen sets the circuit breaker gauge.
func (m *Metrics) SetBreakerOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.BreakerOpen.Set(1)
		return
	}
	m.BreakerOpen.Set(0)
}

// RecordCycle records the duration of a cycle.
func (m *Metrics) RecordCycle(cycle string, d time.Duration) {
	if m == nil {
		return
	}
	m.CycleDuration.WithLabelValues(cycle).Observe(d.Seconds())
}

// RecordOracleCall records an oracle call.
func (m *Metrics) RecordOracleCall(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.OracleLatency.Observe(d.Seconds())
	if err != nil {
		m.OracleErrors.Inc()
	}
}

// RecordRPCLatency records RPC call latency.
func (m *Metrics) RecordRPCLatency(method string, d time.Duration) {
	if m == nil {
		return
	}
	m.RPCCallLatency.WithLabelValues(method).Observe(d.Seconds())
}
