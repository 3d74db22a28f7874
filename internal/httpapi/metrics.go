package httpapi

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the query pipeline's Prometheus instruments.
type Metrics struct {
	turnsTotal      *prometheus.CounterVec
	retriesTotal    prometheus.Counter
	archiveFailures prometheus.Counter
	turnDuration    prometheus.Histogram
}

// NewMetrics creates and registers the instruments on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		turnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "queryd",
			Name:      "turns_total",
			Help:      "Completed query turns by terminal status.",
		}, []string{"status"}),
		retriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "queryd",
			Name:      "query_retries_total",
			Help:      "Statement regenerations after retryable execution errors.",
		}),
		archiveFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "queryd",
			Name:      "memory_archive_failures_total",
			Help:      "Background conversation archive runs that failed.",
		}),
		turnDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "queryd",
			Name:      "turn_duration_seconds",
			Help:      "End-to-end turn latency.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		}),
	}

	reg.MustRegister(m.turnsTotal, m.retriesTotal, m.archiveFailures, m.turnDuration)
	return m
}

// ObserveTurn records one completed turn.
func (m *Metrics) ObserveTurn(status string, duration time.Duration, retries int) {
	m.turnsTotal.WithLabelValues(status).Inc()
	m.turnDuration.Observe(duration.Seconds())
	if retries > 0 {
		m.retriesTotal.Add(float64(retries))
	}
}

// ArchiveFailure records one failed background archive run.
func (m *Metrics) ArchiveFailure() {
	m.archiveFailures.Inc()
}
