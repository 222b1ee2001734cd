package gateway

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const groupUnmatched = "unmatched"

type Metrics struct {
	AuthFailures     *prometheus.CounterVec
	Dispatches       *prometheus.CounterVec
	DispatchDuration *prometheus.HistogramVec
	Cancelled        prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		AuthFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "custodian_gateway_auth_failures_total",
			Help: "Requests rejected by the gateway authenticator",
		}, []string{"reason"}),
		Dispatches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "custodian_gateway_dispatch_total",
			Help: "Authenticated requests by handler group and response status",
		}, []string{"group", "status"}),
		DispatchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "custodian_gateway_dispatch_duration_seconds",
			Help:    "Handler group latency in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"group"}),
		Cancelled: f.NewCounter(prometheus.CounterOpts{
			Name: "custodian_gateway_cancelled_total",
			Help: "Requests cancelled by the client before dispatch",
		}),
	}
}

func (m *Metrics) authFailed(reason string) {
	if m == nil {
		return
	}
	m.AuthFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) dispatched(group string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.Dispatches.WithLabelValues(group, strconv.Itoa(status)).Inc()
	if group != groupUnmatched {
		m.DispatchDuration.WithLabelValues(group).Observe(d.Seconds())
	}
}

func (m *Metrics) cancelled() {
	if m == nil {
		return
	}
	m.Cancelled.Inc()
}
