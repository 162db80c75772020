package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DispatchOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "dispatch_outcomes_total", Help: "Terminal dispatch outcomes by result"},
		[]string{"result"},
	)
	DispatchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "ride_dispatch",
		Name:      "dispatch_latency_seconds",
		Help:      "Time from booking receipt to terminal outcome",
		Buckets:   []float64{1, 5, 10, 20, 40, 80, 160},
	})
	CandidatesOffered = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "candidates_offered_total", Help: "Drivers locked and offered a trip"})

	ProximityRetries = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "proximity_retries_total", Help: "Retried proximity queries"})

	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "ride_dispatch", Name: "sessions_active", Help: "Live customer booking sessions"})
	StreamsActive  = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "ride_dispatch", Name: "streams_active", Help: "Live notification event streams"})

	RelayConsumed = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "relay_messages_consumed_total", Help: "Queue messages consumed by the relay"})
	RelayInvalid  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "relay_messages_invalid_total", Help: "Queue messages dropped as malformed"})
	RelayDropped  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "relay_messages_undelivered_total", Help: "Notifications consumed with no live recipient"})

	LocationUpdates = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "location_updates_total", Help: "Driver location upserts"})

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
