// Package prommetrics provides a Prometheus implementation of the
// billing.Metrics interface.
package prommetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics implements billing.Metrics backed by Prometheus collectors.
type Metrics struct {
	eventsTotal      *prometheus.CounterVec
	eventDuration    *prometheus.HistogramVec
	webhookErrors    *prometheus.CounterVec
	tierChangesTotal *prometheus.CounterVec
	apiCallsTotal    *prometheus.CounterVec
	apiCallDuration  *prometheus.HistogramVec
}

// NewMetrics creates billing metrics registered against reg. An empty
// namespace defaults to "billing".
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = "billing"
	}
	factory := promauto.With(reg)

	return &Metrics{
		eventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Billing events processed, by type and outcome.",
		}, []string{"event_type", "status"}),
		eventDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "event_duration_seconds",
			Help:      "Time spent applying billing events.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event_type"}),
		webhookErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_errors_total",
			Help:      "Webhook requests rejected before reaching the reconciler.",
		}, []string{"reason"}),
		tierChangesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tier_changes_total",
			Help:      "Tier transitions applied from billing events.",
		}, []string{"from", "to"}),
		apiCallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_api_calls_total",
			Help:      "Outbound provider API calls, by operation and outcome.",
		}, []string{"operation", "status"}),
		apiCallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_api_call_duration_seconds",
			Help:      "Latency of outbound provider API calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}
}

func (m *Metrics) RecordEvent(eventType, status string) {
	m.eventsTotal.WithLabelValues(eventType, status).Inc()
}

func (m *Metrics) RecordEventDuration(eventType string, d time.Duration) {
	m.eventDuration.WithLabelValues(eventType).Observe(d.Seconds())
}

func (m *Metrics) RecordWebhookError(reason string) {
	m.webhookErrors.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordTierChange(from, to string) {
	m.tierChangesTotal.WithLabelValues(from, to).Inc()
}

func (m *Metrics) RecordAPICall(operation, status string) {
	m.apiCallsTotal.WithLabelValues(operation, status).Inc()
}

func (m *Metrics) RecordAPICallDuration(operation string, d time.Duration) {
	m.apiCallDuration.WithLabelValues(operation).Observe(d.Seconds())
}
