package authz

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects Prometheus metrics for the authorization engine. A nil
// receiver disables collection, so callers never need to guard.
type Metrics struct {
	checksTotal    *prometheus.CounterVec
	checkDuration  prometheus.Histogram
	cacheEvents    *prometheus.CounterVec
	mutationsTotal *prometheus.CounterVec
}

// NewMetrics registers the engine metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		checksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aula_authz_checks_total",
			Help: "Authorization point checks by decision.",
		}, []string{"decision"}),
		checkDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "aula_authz_check_duration_seconds",
			Help:    "Latency of authorization point checks.",
			Buckets: prometheus.DefBuckets,
		}),
		cacheEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aula_authz_cache_events_total",
			Help: "Decision cache hits, misses, and invalidations.",
		}, []string{"event"}),
		mutationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aula_authz_mutations_total",
			Help: "Successful permission mutations by action.",
		}, []string{"action"}),
	}
	reg.MustRegister(m.checksTotal, m.checkDuration, m.cacheEvents, m.mutationsTotal)
	return m
}

// ObserveCheck records one point check outcome and its duration.
func (m *Metrics) ObserveCheck(decision string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.checksTotal.WithLabelValues(decision).Inc()
	m.checkDuration.Observe(elapsed.Seconds())
}

// ObserveCacheEvent records a decision cache hit, miss, or invalidation.
func (m *Metrics) ObserveCacheEvent(event string) {
	if m == nil {
		return
	}
	m.cacheEvents.WithLabelValues(event).Inc()
}

// ObserveMutation records one successful mutation.
func (m *Metrics) ObserveMutation(action Action) {
	if m == nil {
		return
	}
	m.mutationsTotal.WithLabelValues(string(action)).Inc()
}
