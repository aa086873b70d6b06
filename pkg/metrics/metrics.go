// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// StreamConnectionsActive tracks open dashboard streams by transport.
	StreamConnectionsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relay_stream_connections_active",
			Help: "Number of open dashboard streams",
		},
		[]string{"transport"},
	)

	// SubscribersActive tracks event bus subscribers.
	SubscribersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_subscribers_active",
			Help: "Number of event bus subscribers",
		},
	)

	// SubscriberEvictions counts subscribers dropped for falling behind.
	SubscriberEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_subscriber_evictions_total",
			Help: "Subscribers dropped because their queue was full",
		},
	)

	// SubscriberMaxLag tracks the largest delivery lag across subscribers.
	SubscriberMaxLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_subscriber_max_lag_events",
			Help: "Largest number of published events a subscriber has not flushed",
		},
	)

	// EventsPublished counts events published on the bus.
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_events_published_total",
			Help: "Events published to dashboard subscribers",
		},
		[]string{"type"},
	)

	// ConversationsActive tracks active agent conversations.
	ConversationsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_conversations_active",
			Help: "Number of active agent conversations",
		},
	)

	// ConversationsTotal counts conversations handed off to agents.
	ConversationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_conversations_total",
			Help: "Total conversations handed off to agents",
		},
	)

	// MessagesTotal counts relayed messages.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_messages_total",
			Help: "Total messages relayed",
		},
		[]string{"sender"},
	)

	// DeliveriesTotal counts outbound deliveries by result.
	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_outbound_deliveries_total",
			Help: "Agent replies delivered to the messaging platform",
		},
		[]string{"result"},
	)

	// DeliveryDuration tracks outbound delivery latency.
	DeliveryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relay_outbound_delivery_duration_seconds",
			Help:    "Outbound delivery duration in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	// WebhookEventsTotal counts Viber callbacks by event type and outcome.
	WebhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_webhook_events_total",
			Help: "Viber webhook callbacks received",
		},
		[]string{"event", "outcome"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordDelivery records the outcome of an outbound delivery.
func RecordDelivery(result string, duration float64) {
	DeliveriesTotal.WithLabelValues(result).Inc()
	DeliveryDuration.Observe(duration)
}

// IncrementStreamConnections increments the open stream count.
func IncrementStreamConnections(transport string) {
	StreamConnectionsActive.WithLabelValues(transport).Inc()
}

// DecrementStreamConnections decrements the open stream count.
func DecrementStreamConnections(transport string) {
	StreamConnectionsActive.WithLabelValues(transport).Dec()
}
