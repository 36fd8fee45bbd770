package stripe

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/pantryplan/entitle/pkg/billing"
	"github.com/pantryplan/entitle/pkg/entitle"
)

// DecodeEvent translates a verified Stripe event into a typed billing
// event. Event types the reconciler has no use for decode to nil with
// no error so the webhook can ack them.
func (p *Provider) DecodeEvent(event *stripe.Event) (billing.Event, error) {
	created := time.Unix(event.Created, 0).UTC()

	switch event.Type {
	case "checkout.session.completed":
		return p.decodeCheckoutCompleted(event, created)
	case "customer.subscription.created", "customer.subscription.updated":
		return p.decodeSubscriptionUpdated(event, created)
	case "customer.subscription.deleted":
		return p.decodeSubscriptionDeleted(event, created)
	case "invoice.paid", "invoice.payment_succeeded":
		return p.decodeInvoicePaid(event, created)
	case "invoice.payment_failed":
		return p.decodeInvoicePaymentFailed(event, created)
	default:
		return nil, nil
	}
}

func (p *Provider) decodeCheckoutCompleted(event *stripe.Event, created time.Time) (billing.Event, error) {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return nil, fmt.Errorf("%w: checkout session: %v", billing.ErrEventMalformed, err)
	}

	ev := &billing.CheckoutCompleted{
		ID:          string(event.ID),
		Created:     created,
		UserID:      session.Metadata[metadataUserID],
		Tier:        entitle.Tier(session.Metadata[metadataTier]),
		AmountTotal: session.AmountTotal,
		Currency:    string(session.Currency),
	}
	if session.Customer != nil {
		ev.CustomerID = session.Customer.ID
	}
	if session.Subscription != nil {
		ev.SubscriptionID = session.Subscription.ID
	}

	switch session.Mode {
	case stripe.CheckoutSessionModePayment:
		ev.Mode = entitle.PaymentKindOneTime
		if session.PaymentIntent != nil {
			ev.PaymentID = session.PaymentIntent.ID
		}
	default:
		ev.Mode = entitle.PaymentKindSubscription
	}

	// Subscription line items carry the price; one-time purchases
	// resolve the tier from metadata alone.
	if ev.SubscriptionID != "" {
		ev.PriceID = firstPriceID(event.Data.Raw)
	}

	return ev, nil
}

func (p *Provider) decodeSubscriptionUpdated(event *stripe.Event, created time.Time) (billing.Event, error) {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return nil, fmt.Errorf("%w: subscription: %v", billing.ErrEventMalformed, err)
	}

	ev := &billing.SubscriptionUpdated{
		ID:                string(event.ID),
		Created:           created,
		UserID:            sub.Metadata[metadataUserID],
		SubscriptionID:    sub.ID,
		Status:            mapStatus(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
	if sub.Customer != nil {
		ev.CustomerID = sub.Customer.ID
	}
	if sub.TrialEnd > 0 {
		t := time.Unix(sub.TrialEnd, 0).UTC()
		ev.TrialEnd = &t
	}

	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		ev.PriceID = sub.Items.Data[0].Price.ID
	}
	if ev.PriceID != "" {
		if tier, ok := p.TierForPrice(ev.PriceID); ok {
			ev.Tier = tier
		}
	}
	if ev.Tier == "" {
		if tier := entitle.Tier(sub.Metadata[metadataTier]); tier.Valid() {
			ev.Tier = tier
		}
	}

	// Period bounds live on raw JSON fields the typed struct no longer
	// exposes directly.
	start, end := periodBounds(event.Data.Raw)
	ev.PeriodStart = start
	ev.PeriodEnd = end

	return ev, nil
}

func (p *Provider) decodeSubscriptionDeleted(event *stripe.Event, created time.Time) (billing.Event, error) {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return nil, fmt.Errorf("%w: subscription: %v", billing.ErrEventMalformed, err)
	}

	ev := &billing.SubscriptionDeleted{
		ID:             string(event.ID),
		Created:        created,
		UserID:         sub.Metadata[metadataUserID],
		SubscriptionID: sub.ID,
	}
	if sub.Customer != nil {
		ev.CustomerID = sub.Customer.ID
	}
	return ev, nil
}

func (p *Provider) decodeInvoicePaid(event *stripe.Event, created time.Time) (billing.Event, error) {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		return nil, fmt.Errorf("%w: invoice: %v", billing.ErrEventMalformed, err)
	}

	subscriptionID, paymentIntentID := invoiceRefs(event.Data.Raw)
	if subscriptionID == "" {
		// One-off invoices do not touch subscription state.
		return nil, nil
	}

	ev := &billing.InvoicePaid{
		ID:          string(event.ID),
		Created:     created,
		InvoiceID:   invoice.ID,
		PaymentID:   paymentIntentID,
		AmountPaid:  invoice.AmountPaid,
		Currency:    string(invoice.Currency),
		PeriodStart: unixTime(invoice.PeriodStart),
		PeriodEnd:   unixTime(invoice.PeriodEnd),
	}
	if invoice.Customer != nil {
		ev.CustomerID = invoice.Customer.ID
	}
	// Invoices carry no payment intent while the amount due is zero
	// (trials, 100% discounts); fall back to the invoice id so the
	// payment record stays unique.
	if ev.PaymentID == "" {
		ev.PaymentID = invoice.ID
	}
	return ev, nil
}

func (p *Provider) decodeInvoicePaymentFailed(event *stripe.Event, created time.Time) (billing.Event, error) {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		return nil, fmt.Errorf("%w: invoice: %v", billing.ErrEventMalformed, err)
	}

	subscriptionID, _ := invoiceRefs(event.Data.Raw)
	if subscriptionID == "" {
		return nil, nil
	}

	ev := &billing.InvoicePaymentFailed{
		ID:        string(event.ID),
		Created:   created,
		InvoiceID: invoice.ID,
		AmountDue: invoice.AmountDue,
	}
	if invoice.Customer != nil {
		ev.CustomerID = invoice.Customer.ID
	}
	return ev, nil
}

// mapStatus folds Stripe subscription statuses onto the local model.
// Anything that means "not paying right now" lands on past_due so
// access evaluation fails closed.
func mapStatus(s stripe.SubscriptionStatus) entitle.Status {
	switch s {
	case stripe.SubscriptionStatusActive:
		return entitle.StatusActive
	case stripe.SubscriptionStatusTrialing:
		return entitle.StatusTrialing
	case stripe.SubscriptionStatusCanceled:
		return entitle.StatusCanceled
	default:
		return entitle.StatusPastDue
	}
}

// periodBounds pulls current_period_start/end out of the raw payload.
func periodBounds(raw json.RawMessage) (start, end time.Time) {
	var bounds struct {
		CurrentPeriodStart int64 `json:"current_period_start"`
		CurrentPeriodEnd   int64 `json:"current_period_end"`
	}
	if err := json.Unmarshal(raw, &bounds); err != nil {
		return time.Time{}, time.Time{}
	}
	return unixTime(bounds.CurrentPeriodStart), unixTime(bounds.CurrentPeriodEnd)
}

// invoiceRefs extracts the subscription and payment intent references
// from a raw invoice payload. Both may arrive as a bare id string or
// an expanded object.
func invoiceRefs(raw json.RawMessage) (subscriptionID, paymentIntentID string) {
	var refs struct {
		Subscription  json.RawMessage `json:"subscription"`
		PaymentIntent json.RawMessage `json:"payment_intent"`
	}
	if err := json.Unmarshal(raw, &refs); err != nil {
		return "", ""
	}
	return refID(refs.Subscription), refID(refs.PaymentIntent)
}

func refID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return id
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.ID
	}
	return ""
}

// firstPriceID reads the first line item price from a raw checkout
// session payload.
func firstPriceID(raw json.RawMessage) string {
	var session struct {
		LineItems struct {
			Data []struct {
				Price struct {
					ID string `json:"id"`
				} `json:"price"`
			} `json:"data"`
		} `json:"line_items"`
	}
	if err := json.Unmarshal(raw, &session); err != nil {
		return ""
	}
	if len(session.LineItems.Data) == 0 {
		return ""
	}
	return session.LineItems.Data[0].Price.ID
}

func unixTime(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
