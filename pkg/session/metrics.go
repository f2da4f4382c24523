package session

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeSuccess        = "success"
	outcomeRejected       = "rejected"
	outcomeNetwork        = "network"
	outcomeError          = "error"
	outcomeNoRefreshToken = "no_refresh_token"
	outcomeSuperseded     = "superseded"
	outcomeAdopted        = "adopted"
)

// Metrics holds the manager's Prometheus collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	refreshes     *prometheus.CounterVec
	coalescedReqs prometheus.Counter
	duration      prometheus.Histogram
	authenticated prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		refreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "renew_refresh_total",
			Help: "Token renewals by outcome.",
		}, []string{"outcome"}),
		coalescedReqs: factory.NewCounter(prometheus.CounterOpts{
			Name: "renew_refresh_coalesced_total",
			Help: "Callers that joined a renewal already in flight.",
		}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "renew_refresh_duration_seconds",
			Help:    "Time spent exchanging a refresh token.",
			Buckets: prometheus.DefBuckets,
		}),
		authenticated: factory.NewGauge(prometheus.GaugeOpts{
			Name: "renew_session_authenticated",
			Help: "1 while the session holds a valid access token.",
		}),
	}
}

func (m *Metrics) refreshed(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(outcome).Inc()
	if elapsed > 0 {
		m.duration.Observe(elapsed.Seconds())
	}
}

func (m *Metrics) coalesced() {
	if m == nil {
		return
	}
	m.coalescedReqs.Inc()
}

func (m *Metrics) setAuthenticated(authenticated bool) {
	if m == nil {
		return
	}
	if authenticated {
		m.authenticated.Set(1)
	} else {
		m.authenticated.Set(0)
	}
}
