// Package entitle decides, for a given user and gated feature, whether
// access is permitted right now, and tracks per-period usage against
// the plan catalog. Subscription state is kept locally and reconciled
// from payment-processor events by pkg/billing.
package entitle

import (
	"context"
	"time"
)

// Config holds service configuration.
type Config struct {
	// Catalog is the plan table. Defaults to DefaultCatalog().
	Catalog *Catalog

	// Logger is used for structured logging (default: NoopLogger).
	Logger Logger

	// Metrics is used for tracking operations (default: NoopMetrics).
	Metrics Metrics

	// Now is the clock used for period bucketing and timestamps
	// (default: time.Now). Injectable for tests.
	Now func() time.Time
}

// Service is the entitlement engine exposed to the rest of the
// application. Construct one at process start and pass it to request
// handlers explicitly.
type Service struct {
	store   Store
	catalog *Catalog
	log     Logger
	metrics Metrics
	now     func() time.Time
}

// NewService creates a new entitlement service backed by the given store.
func NewService(store Store, config Config) (*Service, error) {
	if store == nil {
		return nil, ErrStoreUnavailable
	}

	catalog := config.Catalog
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	log := config.Logger
	if log == nil {
		log = &NoopLogger{}
	}
	metrics := config.Metrics
	if metrics == nil {
		metrics = &NoopMetrics{}
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}

	return &Service{
		store:   store,
		catalog: catalog,
		log:     log,
		metrics: metrics,
		now:     now,
	}, nil
}

// Catalog returns the plan table the service evaluates against.
func (s *Service) Catalog() *Catalog {
	return s.catalog
}

// Store returns the backing store. The billing reconciler and checkout
// orchestrator share subscription state through it.
func (s *Service) Store() Store {
	return s.store
}

// EnsureSubscription creates the user's subscription row at signup
// (tier free, status active). Calling it again for an existing user is
// a no-op; the existing row is returned untouched.
func (s *Service) EnsureSubscription(ctx context.Context, userID string) (*Subscription, error) {
	now := s.now().UTC()
	sub := &Subscription{
		UserID:    userID,
		Tier:      TierFree,
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	outcome, err := s.store.CreateSubscription(ctx, sub)
	if err != nil {
		return nil, err
	}
	if outcome == OutcomeAlreadyExisted {
		return s.store.GetSubscription(ctx, userID)
	}

	s.log.Info("subscription created", Field{Key: "user_id", Value: userID})
	return sub, nil
}

// GetSubscription returns the user's subscription row.
func (s *Service) GetSubscription(ctx context.Context, userID string) (*Subscription, error) {
	return s.store.GetSubscription(ctx, userID)
}

// RecordUsage adds amount to the user's usage counter for the feature
// in the current period bucket. The increment is a single atomic store
// operation; concurrent calls for the same key never lose updates.
//
// RecordUsage does not re-check entitlement: the gap between a
// CanUseFeature check and the recording call is an accepted soft
// limit, not a hard capacity control.
func (s *Service) RecordUsage(ctx context.Context, userID, feature string, amount int) error {
	if feature == "" {
		return ErrInvalidFeature
	}
	if amount < 0 {
		return ErrInvalidAmount
	}
	if amount == 0 {
		return nil
	}

	bucket := BucketKey(s.now())
	start := time.Now()
	newCount, err := s.store.AddUsage(ctx, userID, feature, amount, bucket)
	s.metrics.RecordStoreOperation("add_usage", time.Since(start), err)
	s.metrics.RecordUsageAdd(feature, amount, err == nil)
	if err != nil {
		return err
	}

	s.log.Debug("usage recorded",
		Field{Key: "user_id", Value: userID},
		Field{Key: "feature", Value: feature},
		Field{Key: "amount", Value: amount},
		Field{Key: "count", Value: newCount},
		Field{Key: "bucket", Value: bucket},
	)
	return nil
}

// FeatureUsage returns the current-period count and configured limit
// for a feature under the user's tier. The second return is false when
// the tier does not offer the feature.
func (s *Service) FeatureUsage(ctx context.Context, userID, feature string) (int, Limit, bool, error) {
	sub, err := s.store.GetSubscription(ctx, userID)
	if err != nil {
		return 0, 0, false, err
	}

	limit, ok := s.catalog.LimitFor(sub.Tier, feature)
	if !ok {
		return 0, 0, false, nil
	}

	count, err := s.store.GetUsage(ctx, userID, feature, BucketKey(s.now()))
	if err != nil {
		return 0, 0, false, err
	}
	return count, limit, true, nil
}

// GetUsageStats returns per-feature usage totals over the trailing
// window. windowDays <= 0 defaults to 30.
func (s *Service) GetUsageStats(ctx context.Context, userID string, windowDays int) (map[string]int, error) {
	if windowDays <= 0 {
		windowDays = 30
	}
	since := s.now().UTC().AddDate(0, 0, -windowDays)
	return s.store.UsageSince(ctx, userID, since)
}
