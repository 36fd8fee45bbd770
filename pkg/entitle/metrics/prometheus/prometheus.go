// Package prommetrics implements entitle.Metrics using Prometheus.
package prommetrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/pantryplan/entitle/pkg/entitle"
)

// Metrics implements entitle.Metrics using Prometheus.
type Metrics struct {
	decisionsTotal     *prometheus.CounterVec
	usageAddTotal      *prometheus.CounterVec
	usageAddAmount     *prometheus.HistogramVec
	storageOpsDuration *prometheus.HistogramVec
	storageOpsErrors   *prometheus.CounterVec
}

// NewMetrics creates a new Prometheus metrics implementation.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		decisionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entitlement_decisions_total",
			Help:      "Total number of access evaluations.",
		}, []string{"feature", "tier", "allowed", "kind"}),

		usageAddTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "usage_increments_total",
			Help:      "Total number of usage increment attempts.",
		}, []string{"feature", "success"}),

		usageAddAmount: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "usage_increment_amount",
			Help:      "Distribution of usage increment amounts.",
			Buckets:   []float64{1, 5, 10, 50, 100},
		}, []string{"feature"}),

		storageOpsDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "storage_operation_duration_seconds",
			Help:      "Latency of storage operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),

		storageOpsErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_operation_errors_total",
			Help:      "Total number of storage operation errors.",
		}, []string{"operation"}),
	}
}

// RecordDecision implements entitle.Metrics.
func (m *Metrics) RecordDecision(feature string, tier entitle.Tier, allowed bool, kind entitle.DenialKind) {
	m.decisionsTotal.WithLabelValues(feature, string(tier), strconv.FormatBool(allowed), string(kind)).Inc()
}

// RecordUsageAdd implements entitle.Metrics.
func (m *Metrics) RecordUsageAdd(feature string, amount int, success bool) {
	m.usageAddTotal.WithLabelValues(feature, strconv.FormatBool(success)).Inc()
	m.usageAddAmount.WithLabelValues(feature).Observe(float64(amount))
}

// RecordStoreOperation implements entitle.Metrics.
func (m *Metrics) RecordStoreOperation(operation string, duration time.Duration, err error) {
	m.storageOpsDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		m.storageOpsErrors.WithLabelValues(operation).Inc()
	}
}
