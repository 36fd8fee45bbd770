package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/pantryplan/entitle/pkg/entitle"
)

// Reconciler applies billing events to the entitlement store. It keeps
// no state of its own: payment idempotency rides on the store's
// unique-id insert, and subscription fields are overwritten from the
// event because the processor is the source of truth.
//
// An event older than the stored row's updated_at is skipped, so a
// delayed redelivery cannot regress state a newer event already wrote.
type Reconciler struct {
	store   entitle.Store
	log     entitle.Logger
	metrics Metrics
	now     func() time.Time
}

// ReconcilerConfig holds reconciler configuration.
type ReconcilerConfig struct {
	// Logger is used for structured logging (default: NoopLogger).
	Logger entitle.Logger

	// Metrics tracks event processing (default: NoopMetrics).
	Metrics Metrics

	// Now is the clock used for canceled_at stamps (default: time.Now).
	Now func() time.Time
}

// NewReconciler creates a reconciler over the given store.
func NewReconciler(store entitle.Store, config ReconcilerConfig) (*Reconciler, error) {
	if store == nil {
		return nil, ErrProviderNotConfigured
	}
	log := config.Logger
	if log == nil {
		log = &entitle.NoopLogger{}
	}
	metrics := config.Metrics
	if metrics == nil {
		metrics = &NoopMetrics{}
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}
	return &Reconciler{store: store, log: log, metrics: metrics, now: now}, nil
}

// Apply processes one event. A nil event (unrecognized type at the
// decode boundary) is accepted and ignored. Store failures come back
// marked retryable; reprocessing after a retry reaches the same end
// state.
func (r *Reconciler) Apply(ctx context.Context, ev Event) error {
	if ev == nil {
		return nil
	}

	start := time.Now()
	err := r.apply(ctx, ev)
	r.metrics.RecordEventDuration(ev.EventType(), time.Since(start))

	switch {
	case err == nil:
		r.metrics.RecordEvent(ev.EventType(), "applied")
	default:
		r.metrics.RecordEvent(ev.EventType(), "error")
		r.log.Error("billing event failed",
			entitle.Field{Key: "event_id", Value: ev.EventID()},
			entitle.Field{Key: "event_type", Value: ev.EventType()},
			entitle.Field{Key: "error", Value: err.Error()},
		)
	}
	return err
}

func (r *Reconciler) apply(ctx context.Context, ev Event) error {
	switch e := ev.(type) {
	case *CheckoutCompleted:
		return r.applyCheckoutCompleted(ctx, e)
	case *SubscriptionUpdated:
		return r.applySubscriptionUpdated(ctx, e)
	case *SubscriptionDeleted:
		return r.applySubscriptionDeleted(ctx, e)
	case *InvoicePaid:
		return r.applyInvoicePaid(ctx, e)
	case *InvoicePaymentFailed:
		return r.applyInvoicePaymentFailed(ctx, e)
	default:
		// Forward compatibility: unknown variants are a no-op.
		r.log.Debug("ignoring unhandled billing event",
			entitle.Field{Key: "event_type", Value: ev.EventType()})
		return nil
	}
}

func (r *Reconciler) applyCheckoutCompleted(ctx context.Context, ev *CheckoutCompleted) error {
	if ev.UserID == "" {
		return fmt.Errorf("%w: checkout %s has no user metadata", ErrEventMalformed, ev.ID)
	}
	if !ev.Tier.Valid() {
		return fmt.Errorf("%w: checkout %s has tier %q", ErrEventMalformed, ev.ID, ev.Tier)
	}

	if ev.PaymentID != "" {
		outcome, err := r.store.RecordPayment(ctx, &entitle.PaymentRecord{
			PaymentID:  ev.PaymentID,
			UserID:     ev.UserID,
			CustomerID: ev.CustomerID,
			Amount:     ev.AmountTotal,
			Currency:   ev.Currency,
			Kind:       ev.Mode,
			CreatedAt:  ev.Created,
		})
		if err != nil {
			return MarkRetryable(fmt.Errorf("record payment: %w", err))
		}
		if outcome == entitle.OutcomeAlreadyExisted {
			r.metrics.RecordEvent(ev.EventType(), "duplicate")
		}
	}

	stale, prevTier, err := r.isStale(ctx, ev.UserID, ev.Created)
	if err != nil {
		return err
	}
	if stale {
		r.metrics.RecordEvent(ev.EventType(), "skipped_stale")
		return nil
	}

	status := entitle.StatusActive
	price := ev.PriceID
	patch := entitle.SubscriptionPatch{
		Tier:      &ev.Tier,
		Status:    &status,
		PriceID:   &price,
		UpdatedAt: &ev.Created,
	}
	if ev.CustomerID != "" {
		patch.CustomerID = &ev.CustomerID
	}
	if ev.SubscriptionID != "" {
		patch.SubscriptionID = &ev.SubscriptionID
	}
	if ev.Mode == entitle.PaymentKindOneTime {
		// One-time purchase: no recurring price backs the tier.
		empty := ""
		patch.PriceID = &empty
	}

	if _, err := r.store.UpsertSubscription(ctx, ev.UserID, patch); err != nil {
		return MarkRetryable(fmt.Errorf("apply checkout: %w", err))
	}
	if prevTier != ev.Tier {
		r.metrics.RecordTierChange(string(prevTier), string(ev.Tier))
	}

	r.log.Info("checkout completed",
		entitle.Field{Key: "user_id", Value: ev.UserID},
		entitle.Field{Key: "tier", Value: string(ev.Tier)},
		entitle.Field{Key: "mode", Value: string(ev.Mode)},
	)
	return nil
}

func (r *Reconciler) applySubscriptionUpdated(ctx context.Context, ev *SubscriptionUpdated) error {
	userID, err := r.resolveUser(ctx, ev.UserID, ev.CustomerID, ev.ID)
	if err != nil {
		return err
	}

	stale, prevTier, err := r.isStale(ctx, userID, ev.Created)
	if err != nil {
		return err
	}
	if stale {
		r.metrics.RecordEvent(ev.EventType(), "skipped_stale")
		return nil
	}

	patch := entitle.SubscriptionPatch{
		Status:            &ev.Status,
		CancelAtPeriodEnd: &ev.CancelAtPeriodEnd,
		UpdatedAt:         &ev.Created,
	}
	if ev.Tier != "" {
		patch.Tier = &ev.Tier
	}
	if ev.PriceID != "" {
		patch.PriceID = &ev.PriceID
	}
	if ev.SubscriptionID != "" {
		patch.SubscriptionID = &ev.SubscriptionID
	}
	if ev.CustomerID != "" {
		patch.CustomerID = &ev.CustomerID
	}
	if !ev.PeriodStart.IsZero() {
		patch.PeriodStart = &ev.PeriodStart
	}
	if !ev.PeriodEnd.IsZero() {
		patch.PeriodEnd = &ev.PeriodEnd
	}
	if ev.TrialEnd != nil {
		patch.TrialEndsAt = ev.TrialEnd
	}

	if _, err := r.store.UpsertSubscription(ctx, userID, patch); err != nil {
		return MarkRetryable(fmt.Errorf("apply subscription update: %w", err))
	}
	if ev.Tier != "" && prevTier != ev.Tier {
		r.metrics.RecordTierChange(string(prevTier), string(ev.Tier))
	}
	return nil
}

// applySubscriptionDeleted performs the hard downgrade. The
// subscription row doubles as the access gate, so this single write
// revokes access on the very next evaluation.
func (r *Reconciler) applySubscriptionDeleted(ctx context.Context, ev *SubscriptionDeleted) error {
	userID, err := r.resolveUser(ctx, ev.UserID, ev.CustomerID, ev.ID)
	if err != nil {
		return err
	}

	stale, prevTier, err := r.isStale(ctx, userID, ev.Created)
	if err != nil {
		return err
	}
	if stale {
		r.metrics.RecordEvent(ev.EventType(), "skipped_stale")
		return nil
	}

	tier := entitle.TierFree
	status := entitle.StatusCanceled
	canceledAt := r.now().UTC()
	cancelFlag := false
	empty := ""
	patch := entitle.SubscriptionPatch{
		Tier:              &tier,
		Status:            &status,
		CanceledAt:        &canceledAt,
		CancelAtPeriodEnd: &cancelFlag,
		PriceID:           &empty,
		UpdatedAt:         &ev.Created,
	}

	if _, err := r.store.UpsertSubscription(ctx, userID, patch); err != nil {
		return MarkRetryable(fmt.Errorf("apply subscription delete: %w", err))
	}
	r.metrics.RecordTierChange(string(prevTier), string(entitle.TierFree))

	r.log.Info("subscription deleted",
		entitle.Field{Key: "user_id", Value: userID},
		entitle.Field{Key: "subscription_id", Value: ev.SubscriptionID},
	)
	return nil
}

func (r *Reconciler) applyInvoicePaid(ctx context.Context, ev *InvoicePaid) error {
	userID, err := r.resolveUser(ctx, ev.UserID, ev.CustomerID, ev.ID)
	if err != nil {
		return err
	}

	if ev.PaymentID != "" {
		outcome, err := r.store.RecordPayment(ctx, &entitle.PaymentRecord{
			PaymentID:  ev.PaymentID,
			UserID:     userID,
			CustomerID: ev.CustomerID,
			Amount:     ev.AmountPaid,
			Currency:   ev.Currency,
			Kind:       entitle.PaymentKindSubscription,
			CreatedAt:  ev.Created,
		})
		if err != nil {
			return MarkRetryable(fmt.Errorf("record payment: %w", err))
		}
		if outcome == entitle.OutcomeAlreadyExisted {
			r.metrics.RecordEvent(ev.EventType(), "duplicate")
		}
	}

	stale, _, err := r.isStale(ctx, userID, ev.Created)
	if err != nil {
		return err
	}
	if stale {
		r.metrics.RecordEvent(ev.EventType(), "skipped_stale")
		return nil
	}

	status := entitle.StatusActive
	patch := entitle.SubscriptionPatch{
		Status:    &status,
		UpdatedAt: &ev.Created,
	}
	if !ev.PeriodStart.IsZero() {
		patch.PeriodStart = &ev.PeriodStart
	}
	if !ev.PeriodEnd.IsZero() {
		patch.PeriodEnd = &ev.PeriodEnd
	}

	if _, err := r.store.UpsertSubscription(ctx, userID, patch); err != nil {
		return MarkRetryable(fmt.Errorf("apply invoice paid: %w", err))
	}
	return nil
}

func (r *Reconciler) applyInvoicePaymentFailed(ctx context.Context, ev *InvoicePaymentFailed) error {
	userID, err := r.resolveUser(ctx, ev.UserID, ev.CustomerID, ev.ID)
	if err != nil {
		return err
	}

	stale, _, err := r.isStale(ctx, userID, ev.Created)
	if err != nil {
		return err
	}
	if stale {
		r.metrics.RecordEvent(ev.EventType(), "skipped_stale")
		return nil
	}

	status := entitle.StatusPastDue
	patch := entitle.SubscriptionPatch{
		Status:    &status,
		UpdatedAt: &ev.Created,
	}
	if _, err := r.store.UpsertSubscription(ctx, userID, patch); err != nil {
		return MarkRetryable(fmt.Errorf("apply invoice failure: %w", err))
	}

	r.log.Warn("invoice payment failed",
		entitle.Field{Key: "user_id", Value: userID},
		entitle.Field{Key: "invoice_id", Value: ev.InvoiceID},
		entitle.Field{Key: "amount_due", Value: ev.AmountDue},
	)
	return nil
}

// resolveUser prefers the user id from event metadata, falling back to
// the stored customer mapping.
func (r *Reconciler) resolveUser(ctx context.Context, userID, customerID, eventID string) (string, error) {
	if userID != "" {
		return userID, nil
	}
	if customerID == "" {
		return "", fmt.Errorf("%w: event %s has neither user nor customer id", ErrEventMalformed, eventID)
	}

	sub, err := r.store.GetSubscriptionByCustomer(ctx, customerID)
	if err == entitle.ErrSubscriptionNotFound {
		return "", fmt.Errorf("%w: customer %s (event %s)", ErrUnknownSubject, customerID, eventID)
	}
	if err != nil {
		return "", MarkRetryable(fmt.Errorf("resolve customer %s: %w", customerID, err))
	}
	return sub.UserID, nil
}

// isStale reports whether the stored row already reflects a newer
// event, and returns the stored tier for tier-change metrics.
func (r *Reconciler) isStale(ctx context.Context, userID string, eventTime time.Time) (bool, entitle.Tier, error) {
	sub, err := r.store.GetSubscription(ctx, userID)
	if err == entitle.ErrSubscriptionNotFound {
		return false, entitle.TierFree, nil
	}
	if err != nil {
		return false, "", MarkRetryable(fmt.Errorf("read subscription: %w", err))
	}
	if !eventTime.IsZero() && !eventTime.After(sub.UpdatedAt) && !eventTime.Equal(sub.UpdatedAt) {
		return true, sub.Tier, nil
	}
	return false, sub.Tier, nil
}
