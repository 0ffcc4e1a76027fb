// Package metrics provides Prometheus metrics for settlement, odds collection
// and the price stream.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector on a private registry. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Settlement
	SettlementRuns     *prometheus.CounterVec
	SettlementDuration prometheus.Histogram
	MarketsProcessed   *prometheus.CounterVec
	PredictionsSettled *prometheus.CounterVec

	// Odds
	OddsCollections *prometheus.CounterVec
	OddsSnapshots   *prometheus.CounterVec
	OddsPruned      prometheus.Counter

	// Stream
	StreamConnected prometheus.Gauge
	StreamEvents    *prometheus.CounterVec
	StreamCached    prometheus.Gauge
}

// New creates the collectors and registers them.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		SettlementRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "moltnba_settlement_runs_total",
				Help: "Settlement passes by result",
			},
			[]string{"result"},
		),
		SettlementDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "moltnba_settlement_duration_seconds",
				Help:    "Duration of a settlement pass",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~400s
			},
		),
		MarketsProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "moltnba_settlement_markets_total",
				Help: "Markets examined by settlement, by outcome",
			},
			[]string{"outcome"},
		),
		PredictionsSettled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "moltnba_predictions_settled_total",
				Help: "Predictions scored or voided",
			},
			[]string{"kind"},
		),

		OddsCollections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "moltnba_odds_collections_total",
				Help: "Odds collection runs by result",
			},
			[]string{"result"},
		),
		OddsSnapshots: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "moltnba_odds_snapshots_total",
				Help: "Odds snapshots by insert result",
			},
			[]string{"result"},
		),
		OddsPruned: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "moltnba_odds_snapshots_pruned_total",
				Help: "Odds snapshots deleted by retention",
			},
		),

		StreamConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "moltnba_stream_connected",
				Help: "Whether the price stream is connected (1=yes, 0=no)",
			},
		),
		StreamEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "moltnba_stream_events_total",
				Help: "Price stream events by kind",
			},
			[]string{"kind"},
		),
		StreamCached: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "moltnba_stream_cached_prices",
				Help: "Assets with a cached streamed price",
			},
		),
	}

	m.registry.MustRegister(
		m.SettlementRuns,
		m.SettlementDuration,
		m.MarketsProcessed,
		m.PredictionsSettled,
		m.OddsCollections,
		m.OddsSnapshots,
		m.OddsPruned,
		m.StreamConnected,
		m.StreamEvents,
		m.StreamCached,
	)
	return m
}

// Registry returns the prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// --- Helper methods for recording metrics ---

// SettlementCounts is the per-pass tally recorded by RecordSettlement.
type SettlementCounts struct {
	Resolved, Canceled, Pending, Failed int
	Scored, Voided                      int
}

// RecordSettlement records one finished settlement pass.
func (m *Metrics) RecordSettlement(result string, d time.Duration, c SettlementCounts) {
	if m == nil {
		return
	}
	m.SettlementRuns.WithLabelValues(result).Inc()
	m.SettlementDuration.Observe(d.Seconds())
	m.MarketsProcessed.WithLabelValues("resolved").Add(float64(c.Resolved))
	m.MarketsProcessed.WithLabelValues("canceled").Add(float64(c.Canceled))
	m.MarketsProcessed.WithLabelValues("pending").Add(float64(c.Pending))
	m.MarketsProcessed.WithLabelValues("failed").Add(float64(c.Failed))
	m.PredictionsSettled.WithLabelValues("scored").Add(float64(c.Scored))
	m.PredictionsSettled.WithLabelValues("voided").Add(float64(c.Voided))
}

// RecordSettlementSkipped counts a pass that did not run.
func (m *Metrics) RecordSettlementSkipped(reason string) {
	if m == nil {
		return
	}
	m.SettlementRuns.WithLabelValues(reason).Inc()
}

// RecordCollection records one odds collection run.
func (m *Metrics) RecordCollection(result string, inserted, duplicate, failed int) {
	if m == nil {
		return
	}
	m.OddsCollections.WithLabelValues(result).Inc()
	m.OddsSnapshots.WithLabelValues("inserted").Add(float64(inserted))
	m.OddsSnapshots.WithLabelValues("duplicate").Add(float64(duplicate))
	m.OddsSnapshots.WithLabelValues("failed").Add(float64(failed))
}

// RecordPrune records deleted snapshots.
func (m *Metrics) RecordPrune(n int64) {
	if m == nil {
		return
	}
	m.OddsPruned.Add(float64(n))
}

// RecordStreamEvent counts a stream event of the given kind.
func (m *Metrics) RecordStreamEvent(kind string) {
	if m == nil {
		return
	}
	m.StreamEvents.WithLabelValues(kind).Inc()
}

// SetStreamState updates the stream gauges.
func (m *Metrics) SetStreamState(connected bool, cached int) {
	if m == nil {
		return
	}
	if connected {
		m.StreamConnected.Set(1)
	} else {
		m.StreamConnected.Set(0)
	}
	m.StreamCached.Set(float64(cached))
}
