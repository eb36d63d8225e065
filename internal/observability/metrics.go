package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsCreated = promauto.NewCounter(prometheus.CounterOpts{Namespace: "towlink", Name: "requests_created_total", Help: "Tow requests submitted"})
	OffersCreated   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "towlink", Name: "offers_created_total", Help: "Offers submitted"})
	OffersAccepted  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "towlink", Name: "offers_accepted_total", Help: "Offers accepted into jobs"})
	JobsCompleted   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "towlink", Name: "jobs_completed_total", Help: "Jobs driven to completion"})
	SweepExpired    = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "towlink", Name: "sweep_expired_total", Help: "Entities expired by the sweeps"},
		[]string{"entity"},
	)
	PayoutsRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "towlink", Name: "payouts_recorded_total", Help: "Payout ledger rows written"},
		[]string{"status"},
	)
	WebhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "towlink", Name: "webhook_events_total", Help: "Payment processor events received"},
		[]string{"type", "outcome"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "towlink", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "towlink",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
