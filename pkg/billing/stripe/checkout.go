package stripe

import (
	"context"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/pantryplan/entitle/pkg/billing"
	"github.com/pantryplan/entitle/pkg/entitle"
)

// CheckoutParams describes a checkout session request.
type CheckoutParams struct {
	UserID     string
	Tier       entitle.Tier
	SuccessURL string
	CancelURL  string

	// TrialDays adds a trial period to subscription checkouts.
	// Ignored for one-time purchases.
	TrialDays int64
}

// CheckoutURL creates a Stripe Checkout Session and returns its URL.
// TierLifetime uses payment mode (a single charge); every other paid
// tier uses subscription mode. The session carries user_id and tier
// metadata so the webhook can attribute the completed checkout without
// extra API round-trips.
func (p *Provider) CheckoutURL(ctx context.Context, req CheckoutParams) (string, error) {
	if req.UserID == "" {
		return "", fmt.Errorf("%w: empty user id", billing.ErrEventMalformed)
	}
	if !req.Tier.Valid() || req.Tier == entitle.TierFree {
		return "", fmt.Errorf("%w: %s", billing.ErrTierNotConfigured, req.Tier)
	}

	priceID, ok := p.priceByTier[req.Tier]
	if !ok {
		p.metrics.RecordAPICall("checkout.sessions.create", "tier_not_configured")
		return "", fmt.Errorf("%w: %s", billing.ErrTierNotConfigured, req.Tier)
	}

	// Resolve the customer up front so repeat buyers reuse their
	// existing Stripe customer instead of minting a duplicate.
	customerID, err := p.GetOrCreateCustomer(ctx, req.UserID)
	if err != nil {
		return "", fmt.Errorf("resolve customer: %w", err)
	}

	mode := stripe.CheckoutSessionModeSubscription
	if req.Tier == entitle.TierLifetime {
		mode = stripe.CheckoutSessionModePayment
	}

	params := &stripe.CheckoutSessionCreateParams{
		Mode:     stripe.String(string(mode)),
		Customer: stripe.String(customerID),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
	}
	params.AddMetadata(metadataUserID, req.UserID)
	params.AddMetadata(metadataTier, string(req.Tier))

	if mode == stripe.CheckoutSessionModeSubscription {
		subData := &stripe.CheckoutSessionCreateSubscriptionDataParams{}
		subData.AddMetadata(metadataUserID, req.UserID)
		subData.AddMetadata(metadataTier, string(req.Tier))
		if req.TrialDays > 0 {
			subData.TrialPeriodDays = stripe.Int64(req.TrialDays)
		}
		params.SubscriptionData = subData
	}

	startTime := time.Now()
	session, err := p.client.V1CheckoutSessions.Create(ctx, params)
	p.metrics.RecordAPICallDuration("checkout.sessions.create", time.Since(startTime))
	if err != nil {
		p.metrics.RecordAPICall("checkout.sessions.create", "error")
		return "", fmt.Errorf("%w: create checkout session: %v", billing.ErrProviderAPIError, err)
	}
	p.metrics.RecordAPICall("checkout.sessions.create", "success")

	p.log.Info("checkout session created",
		entitle.Field{Key: "user_id", Value: req.UserID},
		entitle.Field{Key: "tier", Value: string(req.Tier)},
		entitle.Field{Key: "mode", Value: string(mode)},
	)
	return session.URL, nil
}

// PortalURL creates a Stripe Customer Portal session for self-service
// subscription management. It requires an existing customer mapping.
func (p *Provider) PortalURL(ctx context.Context, userID, returnURL string) (string, error) {
	sub, err := p.store.GetSubscription(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("%w: %s", billing.ErrUnknownSubject, userID)
	}
	if sub.CustomerID == "" {
		return "", fmt.Errorf("%w: user %s has no customer", billing.ErrUnknownSubject, userID)
	}

	params := &stripe.BillingPortalSessionCreateParams{
		Customer:  stripe.String(sub.CustomerID),
		ReturnURL: stripe.String(returnURL),
	}

	startTime := time.Now()
	session, err := p.client.V1BillingPortalSessions.Create(ctx, params)
	p.metrics.RecordAPICallDuration("billing_portal.sessions.create", time.Since(startTime))
	if err != nil {
		p.metrics.RecordAPICall("billing_portal.sessions.create", "error")
		return "", fmt.Errorf("%w: create portal session: %v", billing.ErrProviderAPIError, err)
	}
	p.metrics.RecordAPICall("billing_portal.sessions.create", "success")

	return session.URL, nil
}

// CancelSubscription cancels the user's active subscription. With
// atPeriodEnd the subscription keeps granting access until the period
// closes and the local row only records the pending cancellation; an
// immediate cancel revokes access right away without waiting for the
// deletion webhook.
func (p *Provider) CancelSubscription(ctx context.Context, userID string, atPeriodEnd bool) error {
	sub, err := p.store.GetSubscription(ctx, userID)
	if err != nil {
		return fmt.Errorf("%w: %s", billing.ErrUnknownSubject, userID)
	}
	if sub.SubscriptionID == "" {
		return fmt.Errorf("%w: user %s", billing.ErrNoActiveSubscription, userID)
	}

	if atPeriodEnd {
		params := &stripe.SubscriptionUpdateParams{
			CancelAtPeriodEnd: stripe.Bool(true),
		}
		startTime := time.Now()
		_, err := p.client.V1Subscriptions.Update(ctx, sub.SubscriptionID, params)
		p.metrics.RecordAPICallDuration("subscriptions.update", time.Since(startTime))
		if err != nil {
			p.metrics.RecordAPICall("subscriptions.update", "error")
			return fmt.Errorf("%w: schedule cancellation: %v", billing.ErrProviderAPIError, err)
		}
		p.metrics.RecordAPICall("subscriptions.update", "success")

		flag := true
		if _, err := p.store.UpsertSubscription(ctx, userID, entitle.SubscriptionPatch{
			CancelAtPeriodEnd: &flag,
		}); err != nil {
			return fmt.Errorf("record pending cancellation: %w", err)
		}
		return nil
	}

	startTime := time.Now()
	_, err = p.client.V1Subscriptions.Cancel(ctx, sub.SubscriptionID, nil)
	p.metrics.RecordAPICallDuration("subscriptions.cancel", time.Since(startTime))
	if err != nil {
		p.metrics.RecordAPICall("subscriptions.cancel", "error")
		return fmt.Errorf("%w: cancel subscription: %v", billing.ErrProviderAPIError, err)
	}
	p.metrics.RecordAPICall("subscriptions.cancel", "success")

	tier := entitle.TierFree
	status := entitle.StatusCanceled
	canceledAt := time.Now().UTC()
	flag := false
	empty := ""
	if _, err := p.store.UpsertSubscription(ctx, userID, entitle.SubscriptionPatch{
		Tier:              &tier,
		Status:            &status,
		CanceledAt:        &canceledAt,
		CancelAtPeriodEnd: &flag,
		PriceID:           &empty,
	}); err != nil {
		return fmt.Errorf("record cancellation: %w", err)
	}

	p.log.Info("subscription canceled",
		entitle.Field{Key: "user_id", Value: userID},
		entitle.Field{Key: "subscription_id", Value: sub.SubscriptionID},
	)
	return nil
}
