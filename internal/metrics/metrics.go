package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhookRequestsTotal counts Stripe webhook requests by event type and status.
	WebhookRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "predict",
		Subsystem: "billing",
		Name:      "webhook_requests_total",
		Help:      "Total Stripe webhook requests by event type and HTTP status.",
	}, []string{"event_type", "status"})

	// WebhookDuration tracks Stripe webhook processing latency.
	WebhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "predict",
		Subsystem: "billing",
		Name:      "webhook_duration_seconds",
		Help:      "Stripe webhook processing duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"event_type"})

	// VerificationsTotal counts subscription verifications by outcome.
	VerificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "predict",
		Subsystem: "billing",
		Name:      "verifications_total",
		Help:      "Subscription verification results (premium/free/auth_error/error).",
	}, []string{"outcome"})

	// CheckoutSessionsTotal counts checkout and portal session creations.
	CheckoutSessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "predict",
		Subsystem: "billing",
		Name:      "checkout_sessions_total",
		Help:      "Checkout and portal session creations by kind and outcome.",
	}, []string{"kind", "outcome"})

	// FeedMatches tracks the number of matches currently loaded from the feed.
	FeedMatches = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "predict",
		Subsystem: "feed",
		Name:      "matches_loaded",
		Help:      "Number of matches loaded from the prediction feed.",
	})
)
