package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sells-group/finfuse/internal/resilience"
	"github.com/sells-group/finfuse/internal/validation"
)

// Metrics holds the Prometheus collectors for fusion and validation. Each
// instance owns its registry, so tests and multiple servers never collide
// on the default one.
type Metrics struct {
	registry *prometheus.Registry

	cacheLookups      *prometheus.CounterVec
	sourceFetches     *prometheus.CounterVec
	tickersProcessed  *prometheus.CounterVec
	qualityScore      prometheus.Histogram
	tickerDuration    prometheus.Histogram
	validationFinding *prometheus.CounterVec
}

// NewMetrics creates and registers the collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finfuse_cache_lookups_total",
				Help: "Fusion cache lookups by result",
			},
			[]string{"result"},
		),
		sourceFetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finfuse_source_fetches_total",
				Help: "Source adapter fetches by source and outcome",
			},
			[]string{"source", "outcome"},
		),
		tickersProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finfuse_tickers_total",
				Help: "Tickers validated by overall status",
			},
			[]string{"status"},
		),
		qualityScore: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "finfuse_quality_score",
				Help:    "Validation quality score per ticker",
				Buckets: []float64{0, 20, 40, 50, 60, 80, 90, 100},
			},
		),
		tickerDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "finfuse_ticker_duration_seconds",
				Help:    "Time to fuse and validate one ticker",
				Buckets: prometheus.DefBuckets,
			},
		),
		validationFinding: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finfuse_validation_findings_total",
				Help: "Validation findings by check and status",
			},
			[]string{"check", "status"},
		),
	}
	m.registry.MustRegister(
		m.cacheLookups,
		m.sourceFetches,
		m.tickersProcessed,
		m.qualityScore,
		m.tickerDuration,
		m.validationFinding,
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the metrics in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveCache records a fusion cache lookup.
func (m *Metrics) ObserveCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// ObserveFetch records one adapter fetch. An empty kind is a success.
func (m *Metrics) ObserveFetch(source string, kind resilience.Kind) {
	outcome := string(kind)
	if outcome == "" {
		outcome = "ok"
	}
	m.sourceFetches.WithLabelValues(source, outcome).Inc()
}

// ObserveReport records a finished ticker.
func (m *Metrics) ObserveReport(r *validation.Report, elapsed time.Duration) {
	if r == nil {
		return
	}
	m.tickersProcessed.WithLabelValues(string(r.OverallStatus)).Inc()
	m.qualityScore.Observe(float64(r.QualityScore))
	m.tickerDuration.Observe(elapsed.Seconds())
	for _, f := range r.Findings {
		m.validationFinding.WithLabelValues(f.Check, string(f.Status)).Inc()
	}
}
