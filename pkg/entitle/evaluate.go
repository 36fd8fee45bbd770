package entitle

import (
	"context"
	"fmt"
	"time"
)

// CanUseFeature evaluates whether the user may invoke the feature right
// now. The check short-circuits in strict precedence order:
//
//  1. no subscription row
//  2. status outside {active, trialing}
//  3. feature absent from the tier's plan
//  4. limit 0 (disabled, upgrade required)
//  5. unlimited
//  6. limit 1 (boolean feature)
//  7. numeric quota against the current period's counter
//
// The evaluator fails closed: any store failure yields a denied
// decision alongside the error, never an allow.
func (s *Service) CanUseFeature(ctx context.Context, userID, feature string) (Decision, error) {
	if feature == "" {
		return Deny(DenyNotInPlan, "not available in this plan"), ErrInvalidFeature
	}

	start := time.Now()
	sub, err := s.store.GetSubscription(ctx, userID)
	s.metrics.RecordStoreOperation("get_subscription", time.Since(start), ignoreNotFound(err))
	if err == ErrSubscriptionNotFound {
		d := Deny(DenyNoSubscription, "no subscription")
		s.metrics.RecordDecision(feature, "", false, d.Kind)
		return d, nil
	}
	if err != nil {
		return Deny(DenyNoSubscription, "no subscription"), err
	}

	if !sub.Status.Grants() {
		d := Deny(DenyPaymentRequired,
			fmt.Sprintf("subscription is %s; payment action required", sub.Status))
		s.metrics.RecordDecision(feature, sub.Tier, false, d.Kind)
		return d, nil
	}

	limit, ok := s.catalog.LimitFor(sub.Tier, feature)
	if !ok {
		d := Deny(DenyNotInPlan, "not available in this plan")
		s.metrics.RecordDecision(feature, sub.Tier, false, d.Kind)
		return d, nil
	}

	switch {
	case limit == 0:
		d := Deny(DenyUpgradeRequired, "disabled; upgrade required")
		s.metrics.RecordDecision(feature, sub.Tier, false, d.Kind)
		return d, nil

	case limit == LimitUnlimited, limit == 1:
		s.metrics.RecordDecision(feature, sub.Tier, true, "")
		return Allow(), nil
	}

	bucket := BucketKey(s.now())
	start = time.Now()
	count, err := s.store.GetUsage(ctx, userID, feature, bucket)
	s.metrics.RecordStoreOperation("get_usage", time.Since(start), err)
	if err != nil {
		// Fail closed rather than granting unmetered access.
		return Deny(DenyQuotaExhausted, fmt.Sprintf("monthly limit reached (%d)", limit)), err
	}

	if count >= int(limit) {
		d := Deny(DenyQuotaExhausted, fmt.Sprintf("monthly limit reached (%d)", limit))
		s.metrics.RecordDecision(feature, sub.Tier, false, d.Kind)
		return d, nil
	}

	s.metrics.RecordDecision(feature, sub.Tier, true, "")
	return Allow(), nil
}

// ignoreNotFound keeps "no row" out of the storage error metrics.
func ignoreNotFound(err error) error {
	if err == ErrSubscriptionNotFound {
		return nil
	}
	return err
}
