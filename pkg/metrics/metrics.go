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
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// MessagesTotal tracks messages recorded by direction and kind.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_messages_total",
			Help: "Total messages recorded",
		},
		[]string{"direction", "kind"},
	)

	// DeliveryReceiptsTotal tracks delivery receipts by resulting status.
	DeliveryReceiptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_delivery_receipts_total",
			Help: "Delivery receipts applied, ignored or unmatched",
		},
		[]string{"status", "result"},
	)

	// EventsTotal tracks business events by type and outcome.
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_events_total",
			Help: "Business events processed by type and ledger outcome",
		},
		[]string{"event_type", "outcome"},
	)

	// ProviderCallDuration tracks WhatsApp Cloud API call duration.
	ProviderCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "whatsapp_provider_call_duration_seconds",
			Help:    "WhatsApp Cloud API call duration",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"operation", "status"},
	)

	// WindowRejectionsTotal tracks freeform sends refused by the session window.
	WindowRejectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inbox_window_rejections_total",
			Help: "Freeform sends refused because the 24h session window was closed",
		},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordProviderCall records metrics for a WhatsApp Cloud API call.
func RecordProviderCall(operation, status string, duration float64) {
	ProviderCallDuration.WithLabelValues(operation, status).Observe(duration)
}
