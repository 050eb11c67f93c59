package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tracectrl"

// HubStats is the read side of the broadcast hub.
type HubStats interface {
	Subscribers() int
	Published() uint64
	Dropped() uint64
}

// PeerCounter reports connected live viewers.
type PeerCounter interface {
	Len() int
}

// Metrics owns a private registry so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	ingestTotal    *prometheus.CounterVec
	ingestDuration *prometheus.HistogramVec
	archiveBatches *prometheus.CounterVec
	archiveLogs    prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		ingestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_total",
			Help:      "Reports received on POST /log by outcome.",
		}, []string{"outcome"}),
		ingestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_duration_seconds",
			Help:      "Time spent accepting a report, by outcome.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		archiveBatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archive_batches_total",
			Help:      "Archive uploads by result.",
		}, []string{"result"}),
		archiveLogs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archive_logs_total",
			Help:      "Logs written to the archive.",
		}),
	}
	reg.MustRegister(m.ingestTotal, m.ingestDuration, m.archiveBatches, m.archiveLogs)
	return m
}

// ObserveIngest records one ingestion attempt.
func (m *Metrics) ObserveIngest(outcome string, elapsed time.Duration) {
	m.ingestTotal.WithLabelValues(outcome).Inc()
	m.ingestDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// ObserveArchive records one archive upload of count logs.
func (m *Metrics) ObserveArchive(count int, err error) {
	if err != nil {
		m.archiveBatches.WithLabelValues("error").Inc()
		return
	}
	m.archiveBatches.WithLabelValues("ok").Inc()
	m.archiveLogs.Add(float64(count))
}

// RegisterHub exposes hub and viewer gauges read at scrape time.
func (m *Metrics) RegisterHub(h HubStats, peers PeerCounter) {
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "hub_subscribers",
			Help:      "Current broadcast subscriptions.",
		}, func() float64 { return float64(h.Subscribers()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hub_published_total",
			Help:      "Logs published to the broadcast hub.",
		}, func() float64 { return float64(h.Published()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hub_dropped_total",
			Help:      "Logs skipped for lagging subscribers.",
		}, func() float64 { return float64(h.Dropped()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_sessions",
			Help:      "Connected live viewers.",
		}, func() float64 { return float64(peers.Len()) }),
	)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
