// internal/metrics/metrics.go
package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "portal"

var (
	ApplicationTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "application_transitions_total",
		Help:      "Application status transitions by source and target status.",
	}, []string{"from", "to"})

	FeePayments = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fee_payments_total",
		Help:      "Fee payment ledger events.",
	}, []string{"event"})

	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "webhook_events_total",
		Help:      "Payment provider webhook deliveries by outcome.",
	}, []string{"outcome"})

	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_total",
		Help:      "Notification deliveries by event and status.",
	}, []string{"event", "status"})

	CheckoutLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "checkout_create_seconds",
		Help:      "Latency of checkout creation calls to the payment provider.",
		Buckets:   prometheus.DefBuckets,
	})
)

func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
