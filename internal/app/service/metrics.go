package service

import (
	"time"

	"github.com/adaptivelab/bitly-historics/internal/bitly"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "historics"

// Metrics holds the collectors updated by the refresh and discovery paths.
// A nil *Metrics records nothing.
type Metrics struct {
	refreshes     *prometheus.CounterVec
	apiErrors     *prometheus.CounterVec
	backoff       *prometheus.CounterVec
	linksDue      prometheus.Gauge
	cycleDuration prometheus.Histogram
	discovered    *prometheus.CounterVec
}

// NewMetrics registers the collectors with reg. A nil reg uses the default
// registerer, which is what /metrics serves.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		refreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "link_refreshes_total",
			Help:      "Links processed by refresh cycles, by outcome.",
		}, []string{"outcome"}),
		apiErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "api_errors_total",
			Help:      "Errors returned while fetching clicks, by kind.",
		}, []string{"kind"}),
		backoff: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "backoff_seconds_total",
			Help:      "Time spent sleeping before retries, by error kind.",
		}, []string{"kind"}),
		linksDue: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "links_due",
			Help:      "Links selected by the last refresh cycle.",
		}),
		cycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of refresh cycles.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
		}),
		discovered: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "discovered_links_total",
			Help:      "Links newly registered by domain discovery.",
		}, []string{"domain"}),
	}
}

func (m *Metrics) refreshed(outcome string) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) apiError(kind bitly.ErrorKind) {
	if m == nil {
		return
	}
	m.apiErrors.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) slept(kind bitly.ErrorKind, d time.Duration) {
	if m == nil {
		return
	}
	m.backoff.WithLabelValues(kind.String()).Add(d.Seconds())
}

func (m *Metrics) cycle(due int, took time.Duration) {
	if m == nil {
		return
	}
	m.linksDue.Set(float64(due))
	m.cycleDuration.Observe(took.Seconds())
}

func (m *Metrics) discoveredLinks(domain string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.discovered.WithLabelValues(domain).Add(float64(n))
}
