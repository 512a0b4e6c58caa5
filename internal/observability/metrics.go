// Package observability provides Prometheus metrics for the price pipeline.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bullion"

// Metrics holds every collector the service exports. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Ingestion
	IngestRuns     *prometheus.CounterVec
	MetalOutcomes  *prometheus.CounterVec
	FetchDuration  *prometheus.HistogramVec
	LastIngestTime *prometheus.GaugeVec

	// Read path
	CacheReads *prometheus.CounterVec

	// Trading
	SnapshotsCreated *prometheus.CounterVec
	Trades           *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		IngestRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "runs_total",
			Help:      "Ingestion runs by overall status code",
		}, []string{"status"}),
		MetalOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "metal_outcomes_total",
			Help:      "Per-metal ingestion results",
		}, []string{"metal", "source", "result"}),
		FetchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "fetch_duration_seconds",
			Help:      "Source document fetch latency",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15, 30},
		}, []string{"source"}),
		LastIngestTime: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last stored price per metal",
		}, []string{"metal"}),

		CacheReads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "reads_total",
			Help:      "Latest-price reads by freshness class",
		}, []string{"class"}),

		SnapshotsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trading",
			Name:      "snapshots_created_total",
			Help:      "Price snapshots issued",
		}, []string{"metal"}),
		Trades: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trading",
			Name:      "trades_total",
			Help:      "Trade executions by direction and outcome",
		}, []string{"direction", "status"}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveIngestRun(status int) {
	if m == nil {
		return
	}
	m.IngestRuns.WithLabelValues(http.StatusText(status)).Inc()
}

func (m *Metrics) ObserveMetal(metal, source string, ok bool) {
	if m == nil {
		return
	}
	result := "failed"
	if ok {
		result = "stored"
		m.LastIngestTime.WithLabelValues(metal).Set(float64(time.Now().Unix()))
	}
	m.MetalOutcomes.WithLabelValues(metal, source, result).Inc()
}

func (m *Metrics) ObserveFetch(source string, d time.Duration) {
	if m == nil {
		return
	}
	m.FetchDuration.WithLabelValues(source).Observe(d.Seconds())
}

func (m *Metrics) ObserveCacheRead(class string) {
	if m == nil {
		return
	}
	m.CacheReads.WithLabelValues(class).Inc()
}

func (m *Metrics) ObserveSnapshot(metal string) {
	if m == nil {
		return
	}
	m.SnapshotsCreated.WithLabelValues(metal).Inc()
}

func (m *Metrics) ObserveTrade(direction, status string) {
	if m == nil {
		return
	}
	m.Trades.WithLabelValues(direction, status).Inc()
}
