package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Delivery and publishing metrics for Prometheus monitoring.
var (
	DeliveryAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsletter_delivery_attempts_total",
			Help: "Total delivery attempts by outcome",
		},
		[]string{"outcome"}, // delivered, retried, failed_permanently
	)

	DeliveryAttemptDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "newsletter_delivery_attempt_duration_seconds",
			Help:    "Duration of a single delivery attempt including bookkeeping",
			Buckets: prometheus.DefBuckets,
		},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "newsletter_delivery_queue_depth",
			Help: "Number of pending delivery tasks observed by the worker",
		},
	)

	PublishRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsletter_publish_requests_total",
			Help: "Total publish requests by result",
		},
		[]string{"result"}, // accepted, replayed, rejected, error
	)

	IdempotencyKeysSweptTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "newsletter_idempotency_keys_swept_total",
			Help: "Total idempotency records removed by the cleanup sweeper",
		},
	)
)
