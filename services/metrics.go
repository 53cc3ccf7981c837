package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds the service's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	linksStored   *prometheus.CounterVec
	claims        *prometheus.CounterVec
	sweepDeleted  prometheus.Counter
	referralEvent *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		linksStored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deferred_links_stored_total",
			Help: "Deferred links stored, by link kind.",
		}, []string{"kind"}),
		claims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deferred_link_claims_total",
			Help: "Claim attempts, by strategy and outcome.",
		}, []string{"strategy", "outcome"}),
		sweepDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "deferred_links_swept_total",
			Help: "Expired or claimed deferred links deleted by the sweeper.",
		}),
		referralEvent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "referral_events_total",
			Help: "Referral lifecycle events.",
		}, []string{"event"}),
	}
	reg.MustRegister(
		m.linksStored, m.claims, m.sweepDeleted, m.referralEvent,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) ObserveStored(kind string) {
	if m == nil {
		return
	}
	m.linksStored.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveClaim(strategy ClaimStrategy, outcome string) {
	if m == nil {
		return
	}
	m.claims.WithLabelValues(string(strategy), outcome).Inc()
}

func (m *Metrics) ObserveSwept(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.sweepDeleted.Add(float64(n))
}

func (m *Metrics) ObserveReferral(event string) {
	m.ObserveReferralN(event, 1)
}

func (m *Metrics) ObserveReferralN(event string, n int64) {
	if m == nil {
		return
	}
	m.referralEvent.WithLabelValues(event).Add(float64(n))
}
