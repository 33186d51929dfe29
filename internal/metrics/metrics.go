// Package metrics holds the Prometheus collectors of the sync engine.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "crmsync"

// CRM request outcomes.
const (
	OutcomeSuccess     = "success"
	OutcomeRateLimited = "rate_limited"
	OutcomeTransient   = "transient"
	OutcomeFatal       = "fatal"
)

type Metrics struct {
	objectsSynced        *prometheus.CounterVec
	recordsSkipped       *prometheus.CounterVec
	crmRequests          *prometheus.CounterVec
	crmRetries           *prometheus.CounterVec
	attributionsComputed *prometheus.CounterVec
	runDuration          *prometheus.HistogramVec
}

// NewMetrics builds the collectors and registers them with reg when reg is non-nil.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		objectsSynced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "objects_synced_total",
			Help:      "Mirror rows written, per object type.",
		}, []string{"object_type"}),
		recordsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_skipped_total",
			Help:      "CRM records skipped for data-quality problems, per object type.",
		}, []string{"object_type"}),
		crmRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "crm_requests_total",
			Help:      "CRM API requests by outcome.",
		}, []string{"outcome"}),
		crmRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "crm_retries_total",
			Help:      "CRM API requests retried, by error kind.",
		}, []string{"kind"}),
		attributionsComputed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attributions_computed_total",
			Help:      "Deal attributions written, by match basis.",
		}, []string{"match_basis"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of per-object-type sync runs.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"object_type", "status"}),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{
			m.objectsSynced, m.recordsSkipped, m.crmRequests,
			m.crmRetries, m.attributionsComputed, m.runDuration,
		} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) ObjectsSynced(objectType string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.objectsSynced.WithLabelValues(objectType).Add(float64(n))
}

func (m *Metrics) RecordsSkipped(objectType string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.recordsSkipped.WithLabelValues(objectType).Add(float64(n))
}

func (m *Metrics) CRMRequest(outcome string) {
	if m == nil {
		return
	}
	m.crmRequests.WithLabelValues(outcome).Inc()
}

func (m *Metrics) CRMRetry(kind string) {
	if m == nil {
		return
	}
	m.crmRetries.WithLabelValues(kind).Inc()
}

func (m *Metrics) AttributionComputed(matchBasis string) {
	if m == nil {
		return
	}
	m.attributionsComputed.WithLabelValues(matchBasis).Inc()
}

func (m *Metrics) ObserveRun(objectType, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.runDuration.WithLabelValues(objectType, status).Observe(d.Seconds())
}
