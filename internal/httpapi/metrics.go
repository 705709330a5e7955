package httpapi

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/datalift/partstream/internal/session"
)

// Metrics holds the coordinator's instrumentation. Each server owns
// its registry so tests can build servers independently.
type Metrics struct {
	registry *prometheus.Registry

	PartsRecorded  prometheus.Counter
	ProxiedBytes   prometheus.Counter
	SessionsSwept  prometheus.Counter
	RequestsServed *prometheus.CounterVec
}

// NewMetrics builds and registers the instrument set, including an
// active-sessions gauge fed from the registry.
func NewMetrics(sessions *session.Store) *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		PartsRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "partstream_parts_recorded_total",
			Help: "Parts confirmed and recorded across all sessions.",
		}),
		ProxiedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "partstream_proxied_bytes_total",
			Help: "Part bytes relayed through the proxied transport.",
		}),
		SessionsSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "partstream_sessions_swept_total",
			Help: "Idle sessions reclaimed by the expiry sweeper.",
		}),
		RequestsServed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "partstream_requests_total",
			Help: "API requests by route and status code.",
		}, []string{"route", "code"}),
	}
	reg.MustRegister(m.PartsRecorded, m.ProxiedBytes, m.SessionsSwept, m.RequestsServed)
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "partstream_active_sessions",
		Help: "Upload sessions currently tracked.",
	}, func() float64 { return float64(sessions.Len()) }))

	return m
}
