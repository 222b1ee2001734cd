package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Pulls             *prometheus.CounterVec
	PullDuration      prometheus.Histogram
	CredentialsIssued *prometheus.CounterVec
	ScheduledRuns     *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Pulls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "custodian_bpd_pulls_total",
			Help: "Business partner data pulls by outcome.",
		}, []string{"outcome"}),
		PullDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "custodian_bpd_pull_duration_seconds",
			Help:    "Duration of business partner data pulls including credential issuance.",
			Buckets: prometheus.DefBuckets,
		}),
		CredentialsIssued: f.NewCounterVec(prometheus.CounterOpts{
			Name: "custodian_bpd_credentials_issued_total",
			Help: "Credentials issued from business partner data by type.",
		}, []string{"type"}),
		ScheduledRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "custodian_bpd_scheduled_refresh_total",
			Help: "Scheduled business partner refresh runs by outcome.",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) observePull(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Pulls.WithLabelValues(outcome).Inc()
	m.PullDuration.Observe(d.Seconds())
}

func (m *Metrics) observeIssued(typ string) {
	if m == nil {
		return
	}
	m.CredentialsIssued.WithLabelValues(typ).Inc()
}

func (m *Metrics) observeScheduled(outcome string) {
	if m == nil {
		return
	}
	m.ScheduledRuns.WithLabelValues(outcome).Inc()
}
