// Package telemetry exposes Prometheus collectors for outbound fetches and
// cache lookups.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	fetchAttempts *prometheus.CounterVec
	fetchDuration prometheus.Histogram
	cacheLookups  *prometheus.CounterVec
}

// New creates the collectors and registers them on reg. A nil reg skips
// registration, which keeps tests free of global state.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		fetchAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "macrodash",
			Name:      "fetch_attempts_total",
			Help:      "Outbound indicator API requests by outcome.",
		}, []string{"outcome"}),
		fetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "macrodash",
			Name:      "fetch_duration_seconds",
			Help:      "Latency of single indicator API requests.",
			Buckets:   prometheus.DefBuckets,
		}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "macrodash",
			Name:      "cache_lookups_total",
			Help:      "Series cache lookups by result.",
		}, []string{"result"}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{m.fetchAttempts, m.fetchDuration, m.cacheLookups} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

// ObserveAttempt records one outbound request.
func (m *Metrics) ObserveAttempt(outcome string, d time.Duration) {
	m.fetchAttempts.WithLabelValues(outcome).Inc()
	m.fetchDuration.Observe(d.Seconds())
}

// ObserveLookup records one cache lookup ("hit", "miss" or "shared").
func (m *Metrics) ObserveLookup(result string) {
	m.cacheLookups.WithLabelValues(result).Inc()
}
