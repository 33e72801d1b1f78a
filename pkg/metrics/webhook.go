package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// WebhookMetrics records outcomes of inbound Stripe webhook events.
type WebhookMetrics struct {
	duration *prometheus.HistogramVec
	events   *prometheus.CounterVec
}

// NewWebhookMetrics registers the webhook metrics on the provided registerer.
// A nil registerer yields a no-op recorder.
func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	if reg == nil {
		return &WebhookMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stripe_webhook_duration_seconds",
		Help:    "Time spent reconciling a Stripe webhook event.",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stripe_webhook_events_total",
		Help: "Stripe webhook events by type and reconciliation status.",
	}, []string{"type", "status"})
	reg.MustRegister(duration, events)
	return &WebhookMetrics{
		duration: duration,
		events:   events,
	}
}

// Observe records one finished event.
func (m *WebhookMetrics) Observe(eventType, status string, elapsed time.Duration) {
	if m == nil || m.events == nil {
		return
	}
	eventType = normalizeLabel(eventType)
	m.events.WithLabelValues(eventType, normalizeLabel(status)).Inc()
	m.duration.WithLabelValues(eventType).Observe(elapsed.Seconds())
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
