package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DispatchTotal counts final dispatch results per channel and outcome
	DispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifier_dispatch_total",
			Help: "Total number of dispatch results",
		},
		[]string{"channel", "outcome"},
	)

	// DispatchInFlight tracks dispatches holding a concurrency slot
	DispatchInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "notifier_dispatch_in_flight",
			Help: "Number of dispatches currently in flight",
		},
	)

	// SendAttempts counts individual gateway calls made by the retry executor
	SendAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifier_send_attempts_total",
			Help: "Total number of gateway send attempts",
		},
		[]string{"channel", "result"},
	)

	// SendLatency tracks gateway call latency
	SendLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notifier_send_latency_seconds",
			Help:    "Gateway send latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"channel"},
	)

	// RateLimited counts consume refusals per channel
	RateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifier_rate_limited_total",
			Help: "Total number of sends refused by the rate limiter",
		},
		[]string{"channel"},
	)

	// FallbackDecisions counts fallback decisions by origin channel and result
	FallbackDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifier_fallback_decisions_total",
			Help: "Total number of fallback decisions",
		},
		[]string{"origin", "taken", "category"},
	)

	// WebhookEvents counts inbound status callbacks by merge outcome
	WebhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifier_webhook_events_total",
			Help: "Total number of inbound status callbacks",
		},
		[]string{"source", "outcome"},
	)

	// RecordsPruned counts retention evictions by kind
	RecordsPruned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifier_records_pruned_total",
			Help: "Total number of records evicted by retention",
		},
		[]string{"kind"},
	)
)
