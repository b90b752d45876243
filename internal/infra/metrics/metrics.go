package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storefront_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	checkoutOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_checkout_outcomes_total",
			Help: "Checkout attempts by final outcome",
		},
		[]string{"operation", "outcome"},
	)

	gatewayCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_payment_gateway_calls_total",
			Help: "Payment provider calls by result",
		},
		[]string{"provider", "op", "result"},
	)

	gatewayCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storefront_payment_gateway_call_duration_seconds",
			Help:    "Latency of payment provider calls",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"provider", "op"},
	)

	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "storefront_payment_breaker_state",
			Help: "Circuit breaker state per provider (0 closed, 1 half-open, 2 open)",
		},
		[]string{"provider"},
	)

	notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_notifications_total",
			Help: "Outbox notifications by delivery result",
		},
		[]string{"kind", "result"},
	)

	sweptReservations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_reservations_swept_total",
			Help: "Expired reservations handled by the sweeper",
		},
		[]string{"action"},
	)

	orderTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_order_transitions_total",
			Help: "Order status transitions",
		},
		[]string{"to", "result"},
	)
)

func RecordCheckout(operation, outcome string) {
	checkoutOutcomes.WithLabelValues(operation, outcome).Inc()
}

func RecordGatewayCall(provider, op, result string, d time.Duration) {
	gatewayCalls.WithLabelValues(provider, op, result).Inc()
	gatewayCallDuration.WithLabelValues(provider, op).Observe(d.Seconds())
}

func RecordBreakerState(provider string, state float64) {
	breakerState.WithLabelValues(provider).Set(state)
}

func RecordNotification(kind string, success bool) {
	notifications.WithLabelValues(kind, result(success)).Inc()
}

func RecordSweep(action string) {
	sweptReservations.WithLabelValues(action).Inc()
}

func RecordOrderTransition(to string, success bool) {
	orderTransitions.WithLabelValues(to, result(success)).Inc()
}

func result(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
