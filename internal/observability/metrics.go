package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MatchesTotal     = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "matches_total", Help: "Rides successfully matched to a driver"})
	UnmatchedTotal   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "unmatched_total", Help: "Rides that exhausted all candidates"})
	NotifiesTotal    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "driver_notifies_total", Help: "Driver ride-request notifications sent"})
	DeclinesTotal    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "driver_declines_total", Help: "Driver declines received"})
	TimeoutsTotal    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "driver_timeouts_total", Help: "Driver response deadlines expired"})
	StaleResponses   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "stale_responses_total", Help: "Accept/decline responses for superseded attempts"})
	MatchLatency     = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: "ride_dispatch", Name: "match_latency_seconds", Help: "Time from ride request to matched"})
	DriversAvailable = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "ride_dispatch", Name: "drivers_available", Help: "Drivers currently available for assignment"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ride_dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
