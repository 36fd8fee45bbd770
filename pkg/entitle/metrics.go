package entitle

import "time"

// Metrics defines the interface for tracking entitlement operations.
type Metrics interface {
	// RecordDecision records an access evaluation result.
	RecordDecision(feature string, tier Tier, allowed bool, kind DenialKind)

	// RecordUsageAdd records a usage increment attempt.
	RecordUsageAdd(feature string, amount int, success bool)

	// RecordStoreOperation records the duration and status of a store
	// operation.
	RecordStoreOperation(operation string, duration time.Duration, err error)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordDecision(feature string, tier Tier, allowed bool, kind DenialKind) {}
func (n *NoopMetrics) RecordUsageAdd(feature string, amount int, success bool)                {}
func (n *NoopMetrics) RecordStoreOperation(operation string, duration time.Duration, err error) {
}
