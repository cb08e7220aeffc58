package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MatchesTotal  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_matching", Name: "matches_total", Help: "Total number of matches"})
	MatchLatency  = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: "ride_matching", Name: "match_latency_seconds", Help: "Match latency seconds"})
	DriversOnline = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "ride_matching", Name: "drivers_online", Help: "Number of online drivers"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_matching", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ride_matching",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	OffersEmittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ride_matching", Name: "offers_emitted_total", Help: "Total ride-offer events emitted to candidates",
	})
	OffersAckedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ride_matching", Name: "offers_acked_total", Help: "Total candidate offers acknowledged",
	})
	OffersTimedOutTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ride_matching", Name: "offers_timed_out_total", Help: "Total candidate offers that timed out unacknowledged",
	})
	DispatchesAssignedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ride_matching", Name: "dispatches_assigned_total", Help: "Total dispatches that ended in an assignment",
	})
	DispatchesExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ride_matching", Name: "dispatches_exhausted_total", Help: "Total dispatches that exhausted all candidates",
	})
	DispatchRoundLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "ride_matching", Name: "dispatch_round_latency_seconds", Help: "Time from task pickup to terminal outcome",
	})
)
