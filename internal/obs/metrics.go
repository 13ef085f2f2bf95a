package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveSessions         = promauto.NewGauge(prometheus.GaugeOpts{Name: "tcprelay_active_sessions", Help: "Sessions currently connecting or relaying"})
	SessionsTotal          = promauto.NewCounter(prometheus.CounterOpts{Name: "tcprelay_sessions_total", Help: "Sessions started"})
	SessionEndsTotal       = promauto.NewCounterVec(prometheus.CounterOpts{Name: "tcprelay_session_ends_total", Help: "Finished sessions by end reason"}, []string{"reason"})
	RejectedTotal          = promauto.NewCounter(prometheus.CounterOpts{Name: "tcprelay_rejected_total", Help: "Connections closed by the accept rate limiter"})
	BytesForwardedTotal    = promauto.NewCounterVec(prometheus.CounterOpts{Name: "tcprelay_bytes_forwarded_total", Help: "Bytes written to the sink by direction"}, []string{"direction"})
	RateLimitedClients     = promauto.NewGauge(prometheus.GaugeOpts{Name: "tcprelay_ratelimit_clients", Help: "Client addresses holding a per-client rate limit bucket"})
	ErrorsTotal            = promauto.NewCounterVec(prometheus.CounterOpts{Name: "tcprelay_errors_total", Help: "Errors by type"}, []string{"type"})
	SessionDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{Name: "tcprelay_session_duration_seconds", Help: "Session lifetime seconds", Buckets: prometheus.ExponentialBuckets(0.01, 2, 16)})
)
