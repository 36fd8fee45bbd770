package billing

import "time"

// Metrics defines the interface for tracking billing operations.
// All methods are optional; a nil-safe Noop implementation is used by
// default.
type Metrics interface {
	// RecordEvent records a processed billing event.
	// status: "applied", "skipped_stale", "duplicate", or "error".
	RecordEvent(eventType, status string)

	// RecordEventDuration records how long event handling took.
	RecordEventDuration(eventType string, duration time.Duration)

	// RecordWebhookError records a webhook ingress error.
	// errorType: "auth_failed", "invalid_payload", "processing_error".
	RecordWebhookError(errorType string)

	// RecordTierChange records a user's tier transition.
	RecordTierChange(fromTier, toTier string)

	// RecordAPICall records an outbound call to the processor API.
	RecordAPICall(endpoint, status string)

	// RecordAPICallDuration records how long a processor API call took.
	RecordAPICallDuration(endpoint string, duration time.Duration)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordEvent(_, _ string)                            {}
func (n *NoopMetrics) RecordEventDuration(_ string, _ time.Duration)      {}
func (n *NoopMetrics) RecordWebhookError(_ string)                        {}
func (n *NoopMetrics) RecordTierChange(_, _ string)                       {}
func (n *NoopMetrics) RecordAPICall(_, _ string)                          {}
func (n *NoopMetrics) RecordAPICallDuration(_ string, _ time.Duration)    {}
