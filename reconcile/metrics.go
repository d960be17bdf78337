package reconcile

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcomes recorded per cache key.
const (
	OutcomeMutated           = "mutated"
	OutcomeUnchanged         = "unchanged"
	OutcomeSkippedDecode     = "skipped_decode"
	OutcomeSkippedTable      = "skipped_table"
	OutcomeSkippedPKFilter   = "skipped_pk_filter"
	OutcomeSkippedFilterErr  = "skipped_filter_error"
	OutcomeSkippedMissingKey = "skipped_missing_pk"
	OutcomeError             = "error"
)

// Metrics holds the reconciler's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	keys          *prometheus.CounterVec
	revalidations *prometheus.CounterVec
	duration      prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		keys: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qcache_reconcile_keys_total",
			Help: "Cache keys visited by the reconciler, by outcome",
		}, []string{"outcome"}),
		revalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qcache_reconcile_revalidations_total",
			Help: "Revalidation triggers issued, by kind (table|relation|failed)",
		}, []string{"kind"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "qcache_reconcile_duration_seconds",
			Help:    "Time spent reconciling one write across all cache keys",
			Buckets: prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(m.keys, m.revalidations, m.duration)
	}
	return m
}

func (m *Metrics) key(outcome string) {
	if m == nil {
		return
	}
	m.keys.WithLabelValues(outcome).Inc()
}

func (m *Metrics) revalidation(kind string) {
	if m == nil {
		return
	}
	m.revalidations.WithLabelValues(kind).Inc()
}

func (m *Metrics) observe(start time.Time) {
	if m == nil {
		return
	}
	m.duration.Observe(time.Since(start).Seconds())
}
